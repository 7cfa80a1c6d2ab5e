package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/defaults"
	"github.com/neboloop/wplace-painter/internal/paint"
	"github.com/neboloop/wplace-painter/internal/palette"
	"github.com/neboloop/wplace-painter/internal/template"
	"github.com/neboloop/wplace-painter/internal/wplace"
)

// DiffCmd creates the diff command
func DiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show how many pixels of each color are left to paint",
		RunE:  runDiff,
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "user identifier (default: first user)")
	cmd.Flags().StringSliceVarP(&colorFlags, "color", "c", nil, `only show these colors, by name ("light slate blue") or hex ("#ed1c24", nearest match)`)
	return cmd
}

// parseColorFilter turns --color values into a set of palette ids.
func parseColorFilter(values []string) (map[int]bool, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ids := make(map[int]bool)
	for _, v := range values {
		if rgb, ok := palette.ParseHex(strings.TrimSpace(v)); ok {
			ids[palette.Nearest(rgb).ID] = true
			continue
		}
		found := palette.ParseNames(strings.Fields(v))
		if len(found) == 0 {
			return nil, fmt.Errorf("unknown color %q", v)
		}
		for _, c := range found {
			ids[c.ID] = true
		}
	}
	return ids, nil
}

func filterEntries(entries []template.ColorEntry, ids map[int]bool) []template.ColorEntry {
	if ids == nil {
		return entries
	}
	return lo.Filter(entries, func(e template.ColorEntry, _ int) bool { return ids[e.ID] })
}

func diffUser() (config.User, error) {
	cfg, err := config.Load(defaults.ConfigPath())
	if err != nil {
		return config.User{}, err
	}
	return selectUser(cfg, userFlag)
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ids, err := parseColorFilter(colorFlags)
	if err != nil {
		return err
	}
	user, err := diffUser()
	if err != nil {
		return err
	}
	painter := paint.New(&wplace.Client{}, nil, nil, nil)
	res, err := painter.Diff(ctx, user)
	if err != nil {
		return err
	}
	printDiff(os.Stdout, user, filterEntries(res.Entries, ids))
	return nil
}

func printDiff(w io.Writer, user config.User, entries []template.ColorEntry) {
	fmt.Fprintf(w, "%s  %s  mode=%s\n\n", user.Identifier, user.Template.Coords.BlueMarble(), user.PaintMode())
	for _, e := range entries {
		c, _ := palette.ByID(e.ID)
		swatch := lipgloss.NewStyle().Background(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))).Render("   ")
		paid := ""
		if e.Paid {
			paid = " (paid)"
		}
		fmt.Fprintf(w, "%s %-20s %6d%s\n", swatch, e.Name, e.Count, paid)
	}
	fmt.Fprintf(w, "\n    %-20s %6d\n", "total", template.Remaining(entries))
}

// PreviewCmd creates the preview command
func PreviewCmd() *cobra.Command {
	var out string
	var scale int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the template in the terminal, or write a diff overlay PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			user, err := diffUser()
			if err != nil {
				return err
			}
			if out == "" {
				tpl, err := template.Load(defaults.TemplatePath(user.Template.FileID), user.Template.Coords)
				if err != nil {
					return err
				}
				cols, rows := template.TerminalSize(os.Stdout)
				return template.RenderANSI(os.Stdout, tpl.Image, cols, rows-2)
			}

			painter := paint.New(&wplace.Client{}, nil, nil, nil)
			res, err := painter.Diff(ctx, user)
			if err != nil {
				return err
			}
			if err := template.SaveOverlay(out, res.Canvas, res.Entries, scale); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d pixels left)\n", out, template.Remaining(res.Entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "user identifier (default: first user)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a PNG overlay marking pixels left to paint")
	cmd.Flags().IntVar(&scale, "scale", 4, "overlay scale factor")
	return cmd
}
