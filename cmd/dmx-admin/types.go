package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/systemshift/dmx/internal/core"
	"github.com/systemshift/dmx/internal/server/engine"
	"github.com/systemshift/dmx/internal/server/txn"
)

func listTypes(ctx context.Context, e *engine.Engine) error {
	return e.Run(ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		sections := []struct {
			title string
			uris  func(context.Context, *txn.Tx) ([]string, error)
			get   func(context.Context, *txn.Tx, string) (*core.TypeModel, error)
		}{
			{"Topic types", e.GetTopicTypeURIs, e.GetTopicType},
			{"Association types", e.GetAssocTypeURIs, e.GetAssocType},
		}
		for i, sec := range sections {
			if i > 0 {
				fmt.Println()
			}
			uris, err := sec.uris(ctx, tx)
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("%s (%d)", sec.title, len(uris))))
			for _, uri := range uris {
				t, err := sec.get(ctx, tx, uri)
				if err != nil {
					return err
				}
				fmt.Printf("  %-40s %-24s %s\n", uriStyle.Render(uri), t.Value.Text(), dimStyle.Render(dataTypeName(t.DataTypeURI)))
			}
		}
		return nil
	})
}

func showType(ctx context.Context, e *engine.Engine, uri string) error {
	return e.Run(ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		t, err := e.GetTopicType(ctx, tx, uri)
		if err != nil {
			if t, err = e.GetAssocType(ctx, tx, uri); err != nil {
				return err
			}
		}
		fmt.Println(titleStyle.Render(t.Value.Text()) + " " + dimStyle.Render(fmt.Sprintf("#%d", t.ID)))
		fmt.Printf("  uri        %s\n", uriStyle.Render(t.URI))
		fmt.Printf("  kind       %s\n", t.TypeURI)
		fmt.Printf("  data type  %s\n", t.DataTypeURI)
		if len(t.IndexModes) > 0 {
			modes := make([]string, len(t.IndexModes))
			for i, m := range t.IndexModes {
				modes[i] = m.String()
			}
			fmt.Printf("  index      %s\n", strings.Join(modes, ", "))
		}
		if t.ViewConfig != nil {
			for _, setting := range []string{core.ViewIconURI, core.ViewColorURI} {
				if v, ok := t.ViewConfig.Setting(setting); ok {
					fmt.Printf("  %-10s %s\n", strings.TrimPrefix(setting, "dmx.core.view_"), v.Text())
				}
			}
		}
		if len(t.CompDefs) == 0 {
			return nil
		}
		fmt.Println(titleStyle.Render("Comp defs"))
		for _, d := range t.CompDefs {
			var flags []string
			if d.Aggregation {
				flags = append(flags, "aggregation")
			}
			if d.IncludeInLabel {
				flags = append(flags, "label")
			}
			if d.CustomAssocTypeURI != "" {
				flags = append(flags, "via "+d.CustomAssocTypeURI)
			}
			fmt.Printf("  %-40s %-5s %s\n", uriStyle.Render(d.CompDefURI), d.Cardinality, dimStyle.Render(strings.Join(flags, " ")))
		}
		return nil
	})
}

func showMigration(ctx context.Context, e *engine.Engine) error {
	return e.Run(ctx, core.RequestContext{}, func(tx *txn.Tx) error {
		n, err := e.Bridge().MigrationNr(ctx, tx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %d\n", titleStyle.Render("Migration"), n)
		return nil
	})
}

func dataTypeName(uri string) string {
	return strings.TrimPrefix(uri, "dmx.core.")
}
