package main

import (
	"fmt"
	"io"

	"github.com/jeongseonghan/gam-linksim/internal/config"
	"github.com/jeongseonghan/gam-linksim/internal/link"
)

func printSummary(w io.Writer, runID string, cfg *config.Config, s link.Summary) {
	fmt.Fprintf(w, "\n=== GAM link simulation %s ===\n", runID)
	fmt.Fprintf(w, "  Modulation:          GAM-%d (%d bits/symbol)\n", 1<<cfg.Modulation.BitsPerSymbol, cfg.Modulation.BitsPerSymbol)
	fmt.Fprintf(w, "  SNR:                 %.1f dB\n", cfg.Channel.SNRdB)
	fmt.Fprintf(w, "  Transmissions:       %d (%d retries, %d aborted)\n", s.Transmissions, s.Retries, s.Aborted)
	fmt.Fprintf(w, "  Successful:          %d\n", s.Successes)
	fmt.Fprintf(w, "  Blocks delivered:    %d/%d\n", s.Delivered, s.Blocks)
	fmt.Fprintf(w, "  BLER:                %.4f\n", s.BLER)
	fmt.Fprintf(w, "  Mean BER:            %.6f (std %.6f)\n", s.MeanBER, s.StdBER)
	fmt.Fprintf(w, "  Preamble detected:   %d\n", s.PreambleDetections)
	fmt.Fprintf(w, "  Oracle passes:       %d\n", s.OraclePasses)
	fmt.Fprintf(w, "  Noise bursts:        %d\n", s.Bursts)
	fmt.Fprintf(w, "  Throughput:          %.3f kbps\n", s.ThroughputKbps)
	fmt.Fprintf(w, "  Efficiency:          %.2f %%\n", s.EfficiencyPct)
	fmt.Fprintf(w, "  Processing time:     %s\n", s.ProcessingTime)
}
