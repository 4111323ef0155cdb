package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charrlodin/otter-form/internal/form/client"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/charrlodin/otter-form/internal/middleware"
	"github.com/charrlodin/otter-form/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, zapLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer zapLogger.Sync()

		db, err := initDatabase(cfg.Database)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		zapLogger.Info("Migration finished")
		return nil
	},
}

var tokenOpts struct {
	subject string
	name    string
	email   string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a development session token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		if cfg.JWT.Secret == "" {
			return errors.New("jwt.secret is not configured (set JWT_SECRET)")
		}
		ttl := tokenOpts.ttl
		if ttl <= 0 {
			ttl = cfg.JWT.TokenExpire
		}
		token, err := middleware.IssueToken(cfg.JWT.Secret, cfg.JWT.Issuer, tokenOpts.subject, tokenOpts.name, tokenOpts.email, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var exportOpts struct {
	owner    string
	format   string
	encoding string
	out      string
}

var exportCmd = &cobra.Command{
	Use:   "export <form-id>",
	Short: "Export a form's responses to CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, zapLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer zapLogger.Sync()

		db, err := initDatabase(cfg.Database)
		if err != nil {
			return err
		}
		svc := service.NewServices(service.Deps{
			Repos:  repository.NewRepositories(db),
			Config: cfg,
			Logger: zapLogger,
		})

		ctx := cmd.Context()
		var filename string
		var data []byte
		switch exportOpts.format {
		case "csv":
			data, filename, err = svc.Export.ExportCSV(ctx, exportOpts.owner, args[0], exportOpts.encoding)
			if err != nil {
				return err
			}
		case "xlsx":
			f, name, err := svc.Export.ExportXLSX(ctx, exportOpts.owner, args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			buf, err := f.WriteToBuffer()
			if err != nil {
				return fmt.Errorf("write xlsx: %w", err)
			}
			data, filename = buf.Bytes(), name
		default:
			return fmt.Errorf("unsupported format %q (csv or xlsx)", exportOpts.format)
		}

		path := exportOpts.out
		if path == "" {
			path = filename
		} else if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, filename)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		zapLogger.Info("Responses exported", zap.String("form_id", args[0]), zap.String("file", path))
		return nil
	},
}

var fillOpts struct {
	server   string
	password string
}

var fillCmd = &cobra.Command{
	Use:   "fill <slug>",
	Short: "Fill in a published form from the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		slug := args[0]
		c := client.New(fillOpts.server, nil)

		form, err := c.GetForm(ctx, slug, fillOpts.password)
		if err != nil {
			return err
		}
		if form.IsLocked || form.Schema == nil {
			return errors.New("this form is password protected, pass --password")
		}
		if !form.IsActive {
			return errors.New("this form is no longer accepting responses")
		}
		if form.IsExpired {
			return errors.New("this form has expired")
		}

		// 统计失败不影响作答
		_ = c.View(ctx, slug)
		_ = c.Start(ctx, slug)

		id, err := tui.Run(ctx, *form.Schema, func(ctx context.Context, answers map[string]interface{}) (string, error) {
			return c.Submit(ctx, slug, fillOpts.password, answers)
		})
		if err != nil {
			return err
		}
		if id != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Response recorded: %s\n", id)
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOpts.subject, "subject", "", "user id (token subject)")
	tokenCmd.Flags().StringVar(&tokenOpts.name, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenOpts.email, "email", "", "email address")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", 0, "token lifetime (default jwt.token_expire)")
	_ = tokenCmd.MarkFlagRequired("subject")

	exportCmd.Flags().StringVar(&exportOpts.owner, "owner", "", "owner user id")
	exportCmd.Flags().StringVar(&exportOpts.format, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVar(&exportOpts.encoding, "encoding", service.EncodingUTF8, "csv encoding: utf-8 or gbk")
	exportCmd.Flags().StringVarP(&exportOpts.out, "out", "o", "", "output file or directory")
	_ = exportCmd.MarkFlagRequired("owner")

	fillCmd.Flags().StringVar(&fillOpts.server, "server", "http://localhost:8080", "OtterForm API address")
	fillCmd.Flags().StringVar(&fillOpts.password, "password", "", "form password")
}
