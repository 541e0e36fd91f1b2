package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata/provider"
)

// downloadAction fetches historical bars for one symbol and stores them as
// CSV or in the local DuckDB bar cache.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	req := provider.Request{
		Symbol:      cmd.String("symbol"),
		Granularity: types.Granularity(cmd.String("interval")),
		Start:       cmd.Timestamp("start"),
		End:         cmd.Timestamp("end"),
	}

	client, err := marketdata.NewClient(marketdata.Config{
		Provider:      provider.Type(cmd.String("provider")),
		Format:        marketdata.Format(cmd.String("format")),
		OutputDir:     cmd.String("out"),
		PolygonAPIKey: os.Getenv("POLYGON_API_KEY"),
		ShowProgress:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to create market data client: %w", err)
	}

	log.Printf("Downloading %s %s bars from %s to %s via %s...",
		req.Symbol, string(req.Granularity),
		req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"),
		cmd.String("provider"))

	path, count, err := client.Download(ctx, req)
	if err != nil {
		return fmt.Errorf("download failed after %d bars: %w", count, err)
	}

	log.Printf("Wrote %d bars to %s", count, path)

	return nil
}

func main() {
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "download",
		Usage: "Download historical bars for backfill and research",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "symbol",
				Aliases:  []string{"s"},
				Usage:    "Instrument symbol (e.g. TSLAUSDT)",
				Required: true,
			},
			&cli.TimestampFlag{
				Name:     "start",
				Usage:    "Start date in `YYYY-MM-DD` format",
				Required: true,
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "End date in `YYYY-MM-DD` format, defaults to today",
				Value: time.Now(),
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.StringFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Bar interval: 1m, 5m, 15m, 30m",
				Value:   string(types.GranularityM1),
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   fmt.Sprintf("Data provider: %s, %s", provider.TypeBinance, provider.TypePolygon),
				Value:   string(provider.TypeBinance),
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   fmt.Sprintf("Output format: %s, %s", marketdata.FormatCSV, marketdata.FormatDuckDB),
				Value:   string(marketdata.FormatDuckDB),
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output directory",
				Value:   "data",
			},
		},
		Action: downloadAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
