package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/wplace-painter/internal/coords"
)

// CoordsCmd creates the coords command
func CoordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coords <blue-marble | lat,lon>",
		Short: "Convert between Blue Marble coordinates, lat/lon and share links",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseCoordsArg(strings.Join(args, " "))
			if err != nil {
				return err
			}
			ll := p.LatLon()
			fmt.Fprintf(cmd.OutOrStdout(), "Blue Marble: %s\n", p.BlueMarble())
			fmt.Fprintf(cmd.OutOrStdout(), "Lat/Lon:     %.7f, %.7f\n", ll.Lat, ll.Lon)
			fmt.Fprintf(cmd.OutOrStdout(), "Absolute:    %d, %d\n", p.Abs().X, p.Abs().Y)
			fmt.Fprintf(cmd.OutOrStdout(), "Link:        %s\n", p.ShareURL(coords.DefaultZoom))
			return nil
		},
	}
}

// parseCoordsArg accepts the Blue Marble text or "lat,lon".
func parseCoordsArg(s string) (coords.Pixel, error) {
	if p, err := coords.Parse(s); err == nil {
		return p, nil
	}
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return coords.Pixel{}, fmt.Errorf("expected Blue Marble coords or lat,lon: %q", s)
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	lo, err2 := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err1 != nil || err2 != nil {
		return coords.Pixel{}, fmt.Errorf("expected Blue Marble coords or lat,lon: %q", s)
	}
	return coords.FromLatLon(la, lo), nil
}
