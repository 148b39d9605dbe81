package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/threepress/bookworm/internal/config"
	"github.com/threepress/bookworm/internal/library"
)

// withLibrary runs fn against the configured library and closes it
// afterwards.
func (e *env) withLibrary(fn func(lib *library.Library) error) (err error) {
	lib, store, err := e.openLibrary()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()
	return fn(lib)
}

func newImportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "import BOOK.epub...",
		Short: "Add ePub archives to the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withLibrary(func(lib *library.Library) error {
				var errs error
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						errs = multierr.Append(errs, fmt.Errorf("unable to read book: %w", err))
						continue
					}
					book, err := lib.Upload(cmd.Context(), e.cfg.Library.Owner, filepath.Base(path), data)
					var reject *library.RejectError
					switch {
					case errors.As(err, &reject):
						fmt.Fprintln(cmd.ErrOrStderr(), reject.Message())
						errs = multierr.Append(errs, err)
						continue
					case err != nil:
						errs = multierr.Append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s/%s\n", book.Title(), book.Slug, book.Key)
				}
				return errs
			})
		},
	}
}

func newListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the books of the library owner, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withLibrary(func(lib *library.Library) error {
				books, err := lib.Books(cmd.Context(), e.cfg.Library.Owner)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tTITLE\tAUTHOR\tADDED")
				for _, b := range books {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Key, b.Title(), b.Author(), b.Created.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY...",
		Short: "Remove books from the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withLibrary(func(lib *library.Library) error {
				var errs error
				for _, key := range args {
					errs = multierr.Append(errs, lib.Delete(cmd.Context(), key))
				}
				return errs
			})
		},
	}
}

func newDownloadCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download KEY [OUT]",
		Short: "Write the uploaded ePub archive of a book",
		Long: `Write the archive of book KEY exactly as it was imported. OUT defaults
to the original filename in the current directory; "-" writes to stdout.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			return e.withLibrary(func(lib *library.Library) error {
				name, data, err := lib.Download(cmd.Context(), title, args[0])
				if err != nil {
					return err
				}
				out := name
				if len(args) == 2 {
					out = args[1]
				}
				if out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("unable to write book: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().String("title", "", "URL title the book must have")
	return cmd
}

func newSearchCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find chapters of the owner's books containing QUERY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withLibrary(func(lib *library.Library) error {
				hits, err := lib.Search(cmd.Context(), e.cfg.Library.Owner, args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, h := range hits {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.BookKey, h.Title, h.IDRef, h.Chapter)
				}
				return w.Flush()
			})
		},
	}
}

func newStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show library totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withLibrary(func(lib *library.Library) error {
				c, err := lib.Counters(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "books:  %d\nowners: %d\n", c.Books, c.Owners)
				return nil
			})
		},
	}
}

func newConfigCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Dump(e.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
