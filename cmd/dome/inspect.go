package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/martinemde/dome/catalog"
	"github.com/martinemde/dome/docgen"
	"github.com/martinemde/dome/hitl"
	"github.com/martinemde/dome/store"
	"github.com/martinemde/dome/subagent"
	"github.com/martinemde/dome/tools"
)

func (c *ToolsCmd) Run(g *Globals) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	decls, err := catalog.Declarations()
	if err != nil {
		return err
	}
	composer := subagent.NewComposer(nil, subagent.WithConfig(cfg.SubagentSettings()))
	comp := composer.Compose(tools.Convert(decls, nil))
	return writeToolTable(os.Stdout, comp, cfg.Policy(composer.Specs()))
}

// writeToolTable prints the supervisor's tools, then each subagent's.
func writeToolTable(w io.Writer, comp *subagent.Composition, policy *hitl.Policy) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tTOOL\tMODE\tDESCRIPTION")
	for _, t := range comp.Supervisor.Tools() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", subagent.SupervisorRole, t.Name, policy.Decide(t.Name), firstLine(t.Description))
	}
	for _, role := range subagent.Roles {
		b, ok := comp.Bundles[role]
		if !ok {
			continue
		}
		for _, t := range b.Tools.Tools() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", role, t.Name, hitl.Allow, firstLine(t.Description))
		}
	}
	for _, name := range comp.Dropped {
		fmt.Fprintf(tw, "-\t%s\tdropped\tunknown agent role\n", name)
	}
	return tw.Flush()
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}

func (c *ApprovalsCmd) Run(g *Globals) error {
	cfg, _, err := loadConfig(g)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.ListApprovals(context.Background(), c.Thread)
	if err != nil {
		return err
	}
	return writeApprovals(os.Stdout, recs)
}

func writeApprovals(w io.Writer, recs []store.ApprovalRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no approvals recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tTOOL\tCALL\tDECISION\tMESSAGE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.At.Local().Format("2006-01-02 15:04:05"), r.Kind, r.Tool, r.ToolCallID, r.Decision, r.Message)
	}
	return tw.Flush()
}

func (c *SlidesCmd) Run(g *Globals) error {
	cfg, logger, err := loadConfig(g)
	if err != nil {
		return err
	}
	gen, err := docgen.New(cfg.DocgenSettings(), docgen.WithLogger(logger))
	if err != nil {
		return err
	}
	slides, err := gen.SlideImages(context.Background(), c.Artifact)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.Out, 0o755); err != nil {
		return err
	}
	for _, s := range slides {
		data, err := base64.StdEncoding.DecodeString(s.ImageBase64)
		if err != nil {
			return fmt.Errorf("slide %d: %w", s.Index+1, err)
		}
		path := filepath.Join(c.Out, fmt.Sprintf("slide-%02d.png", s.Index+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Println(path)
	}
	return nil
}
