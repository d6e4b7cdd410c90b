package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/bosai-one/shelter-search/internal/search"
)

var (
	searchLat            float64
	searchLon            float64
	searchRadius         float64
	searchLimit          int
	searchHazards        []string
	searchHideIneligible bool
	searchDiagnostics    bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a one-shot nearby search and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeFn, err := buildEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer closeFn()

		resp, err := engine.NearbySearch(cmd.Context(), search.NearbyQuery{
			Lat:            searchLat,
			Lon:            searchLon,
			RadiusKm:       searchRadius,
			Limit:          searchLimit,
			Hazards:        searchHazards,
			HideIneligible: searchHideIneligible,
			Diagnostics:    searchDiagnostics,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	searchCmd.Flags().Float64Var(&searchLat, "lat", 0, "center latitude in degrees")
	searchCmd.Flags().Float64Var(&searchLon, "lon", 0, "center longitude in degrees")
	searchCmd.Flags().Float64Var(&searchRadius, "radius", 5, "search radius in km")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results (default from config)")
	searchCmd.Flags().StringSliceVar(&searchHazards, "hazard", nil, "hazard keys to filter on (repeatable)")
	searchCmd.Flags().BoolVar(&searchHideIneligible, "hide-ineligible", false, "drop shelters failing the hazard filter")
	searchCmd.Flags().BoolVar(&searchDiagnostics, "diagnostics", false, "include distance-distribution diagnostics")
	_ = searchCmd.MarkFlagRequired("lat")
	_ = searchCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(searchCmd)
}
