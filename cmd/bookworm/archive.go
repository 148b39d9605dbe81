package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/threepress/bookworm/internal/explode"
	"github.com/threepress/bookworm/internal/render"
)

func (e *env) explodeFile(path string) (*explode.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read book: %w", err)
	}
	doc, err := explode.Explode(data, explode.Options{Logger: e.log, Thumbnail: e.cfg.Images.Thumbnail})
	if err != nil {
		return nil, fmt.Errorf("unable to explode %s: %w", path, err)
	}
	return doc, nil
}

func newExplodeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "explode BOOK.epub",
		Short: "Show what an ePub archive explodes into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := e.explodeFile(args[0])
			if err != nil {
				return err
			}
			printDocument(cmd.OutOrStdout(), doc)
			return nil
		},
	}
}

func printDocument(w io.Writer, doc *explode.Document) {
	md := doc.Metadata
	fmt.Fprintf(w, "Title:    %s\n", md.Title)
	if len(md.Authors) > 0 {
		fmt.Fprintf(w, "Authors:  %s\n", strings.Join(md.Authors, ", "))
	}
	fmt.Fprintf(w, "Package:  %s\n", doc.PackagePath)
	fmt.Fprintf(w, "Nav:      %s\n", doc.NavPath)
	fmt.Fprintf(w, "Entries:  %d\n", len(doc.Entries))

	fmt.Fprintf(w, "\nChapters (%d):\n", len(doc.Chapters))
	for _, ch := range doc.Chapters {
		fmt.Fprintf(w, "  %3d  %-30s %s\n", ch.Order, ch.IDRef, ch.Title)
	}
	fmt.Fprintf(w, "\nStylesheets (%d):\n", len(doc.Styles))
	for _, s := range doc.Styles {
		fmt.Fprintf(w, "  %s\n", s.IDRef)
	}
	fmt.Fprintf(w, "\nImages (%d):\n", len(doc.Images))
	for _, img := range doc.Images {
		fmt.Fprintf(w, "  %-30s %s\n", img.IDRef, img.MediaType)
	}
	if c := doc.Cover; c != nil {
		fmt.Fprintf(w, "\nCover:    %s (%dx%d, found by %s)\n", c.Href, c.Width, c.Height, c.DetectionMethod)
	}
	if errs := multierr.Errors(doc.Problems); len(errs) > 0 {
		fmt.Fprintf(w, "\nProblems (%d):\n", len(errs))
		for _, err := range errs {
			fmt.Fprintf(w, "  %v\n", err)
		}
	}
}

func newTOCCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "toc BOOK.epub",
		Short: "Print the table of contents of an ePub archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := e.explodeFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, n := range doc.Nav.Flatten() {
				fmt.Fprintf(w, "%s%s  [%s]\n", strings.Repeat("  ", n.Depth()-1), n.Title, n.Href)
			}
			return nil
		},
	}
}

func newRenderCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "render BOOK.epub CHAPTER",
		Short: "Print the sanitized markup of one chapter",
		Long: `Print the sanitized markup of the chapter whose idref (manifest href
without fragment) is CHAPTER. Chapters that are not well formed print
their raw content.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := e.explodeFile(args[0])
			if err != nil {
				return err
			}
			for _, ch := range doc.Chapters {
				if ch.IDRef == args[1] {
					r := render.New(e.log, e.cfg.Render.Fallback, nil)
					_, err := cmd.OutOrStdout().Write(r.Render(ch))
					return err
				}
			}
			return fmt.Errorf("no chapter %q in %s", args[1], args[0])
		},
	}
}
