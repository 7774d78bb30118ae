package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docrag/app/server"
	"docrag/service"
	"docrag/store"
	"docrag/types"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := buildDeps(ctx, opts.config)
			if err != nil {
				return err
			}
			defer d.Close()

			s := server.NewServer(d.server())
			errCh := make(chan error, 1)
			go func() { errCh <- s.Run() }()

			select {
			case err := <-errCh:
				return fmt.Errorf("server: %w", err)
			case <-ctx.Done():
				slog.Info("received shutdown signal, shutting down server")
				s.Stop()
				return nil
			}
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables, indexes and the match_by_document function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(cmd.Context(), opts.config)
			if err != nil {
				return err
			}
			defer db.Close()
			cmd.Printf("Schema ready (%s, %d dimensions)\n", opts.config.Store.Driver, opts.config.Embedding.Dimension)
			return nil
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		file      string
		url       string
		summarize bool
		language  string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a PDF file or a web page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := types.Source{Owner: opts.config.Owner}
			switch {
			case file != "":
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				src.Kind = types.SourcePDF
				src.Name = filepath.Base(file)
				src.Reader = f
			case url != "":
				params := types.IngestURLParams{URL: url}
				if err := types.ValidateErr(&params); err != nil {
					return err
				}
				src.Kind = types.SourceLink
				src.URL = params.URL
			default:
				return errors.New("one of --file or --url is required")
			}

			d, err := buildDeps(cmd.Context(), opts.config)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.ingestor.Ingest(cmd.Context(), src, service.IngestOptions{Summarize: summarize, Language: language})
			if err != nil {
				return err
			}

			cmd.Printf("Document: %s\n", res.DocumentID)
			cmd.Printf("Chunks:   %d\n", res.ChunkCount)
			switch {
			case res.Summary.OK():
				cmd.Printf("\n%s\n", res.Summary.Value)
			case res.Summary.Err != nil:
				cmd.Printf("Summary unavailable: %v\n", res.Summary.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "PDF file to ingest")
	cmd.Flags().StringVarP(&url, "url", "u", "", "web page to ingest")
	cmd.Flags().BoolVarP(&summarize, "summarize", "s", false, "also summarize the document")
	cmd.Flags().StringVar(&language, "language", "", "language of the summary")
	cmd.MarkFlagsMutuallyExclusive("file", "url")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var docID string
	cmd := &cobra.Command{
		Use:   "ask --doc ID QUESTION",
		Short: "Ask a question about a document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd.Context(), opts.config)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.querier.Ask(cmd.Context(), types.AskParams{
				DocumentID: docID,
				Query:      strings.Join(args, " "),
				Owner:      opts.config.Owner,
			})
			if err != nil {
				return err
			}

			cmd.Println(res.Answer)
			for _, src := range res.Sources {
				page := ""
				if src.Page != "" {
					page = " page " + src.Page
				}
				cmd.Printf("  [%d%s] %.3f %s\n", src.Index, page, src.Similarity, oneLine(src.Excerpt, 80))
			}
			if res.Log.Err != nil {
				slog.Warn("chat history not saved", "err", res.Log.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&docID, "doc", "d", "", "document id")
	cmd.MarkFlagRequired("doc")
	return cmd
}

// documents opens only the store; listing and deleting need no models.
func documents(ctx context.Context, cfg *types.Config) (*service.Ingestor, store.DBStorer, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return service.NewIngestor(db, db, nil, nil, nil, nil), db, nil
}

func newDocsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ingestor, db, err := documents(cmd.Context(), opts.config)
			if err != nil {
				return err
			}
			defer db.Close()

			docs, err := ingestor.ListDocuments(cmd.Context(), opts.config.Owner)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				cmd.Println("No documents found")
				return nil
			}
			for _, doc := range docs {
				cmd.Printf("%s  %-4s  %s  %s\n", doc.ID, doc.SourceKind, doc.CreatedAt.Format("2006-01-02 15:04"), doc.Name)
			}
			cmd.Printf("\nTotal: %d documents\n", len(docs))
			return nil
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a document with its chunks and chat history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ingestor, db, err := documents(cmd.Context(), opts.config)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := ingestor.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
