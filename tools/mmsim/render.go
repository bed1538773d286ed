//go:build !386

package main

import (
	"fmt"
	"image/color"

	"kestrel/kernel/mm"
	"kestrel/kernel/mm/pmm"

	"github.com/fogleman/gg"
	"github.com/spf13/cobra"
)

var (
	renderOutput   string
	renderScenario string
	renderColumns  int
	renderCellSize int
)

var (
	colorFree       = color.RGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 0xff}
	colorClaimed    = color.RGBA{R: 0xc6, G: 0x28, B: 0x28, A: 0xff}
	colorBackground = color.RGBA{R: 0x21, G: 0x21, B: 0x21, A: 0xff}
)

func init() {
	cmd := newRenderCmd()
	cmd.Flags().StringVarP(&renderOutput, "output", "o", "frames.png", "Output PNG file")
	cmd.Flags().StringVar(&renderScenario, "scenario", "", "Run this scenario before rendering")
	cmd.Flags().IntVar(&renderColumns, "columns", 128, "Frames per row")
	cmd.Flags().IntVar(&renderCellSize, "cell", 4, "Size of a frame in pixels")
	rootCmd.AddCommand(cmd)
}

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Render the physical frame bitmap as a PNG image",
		Long: `The render command boots a machine, optionally runs a scenario on it and
draws one cell per physical frame: claimed frames are red and free frames
are green.

Example:
  mmsim render -o frames.png
  mmsim render --scenario scenarios/fragmentation.yaml --cell 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if renderColumns <= 0 || renderCellSize <= 0 {
				return fmt.Errorf("columns and cell size must be positive")
			}

			ramSize, err := parseRAM(ramFlag)
			if err != nil {
				return err
			}

			sim, err := newSimulator(ramSize, cmdLine)
			if err != nil {
				return err
			}
			defer sim.Close()

			if renderScenario != "" {
				sc, err := loadScenario(renderScenario)
				if err != nil {
					return err
				}
				if _, err := runScenario(sim, sc, cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			total, used := sim.frames()
			if err := renderFrames(total, renderColumns, renderCellSize).SavePNG(renderOutput); err != nil {
				return err
			}

			printInfo(cmd, "rendered %d frames (%d used) to %s\n", total, used, renderOutput)
			return nil
		},
	}
}

// renderFrames draws the state of the first frameCount frames.
func renderFrames(frameCount uint32, columns, cellSize int) *gg.Context {
	rows := (int(frameCount) + columns - 1) / columns
	dc := gg.NewContext(columns*cellSize, rows*cellSize)
	dc.SetColor(colorBackground)
	dc.Clear()

	for frame := mm.Frame(0); uint32(frame) < frameCount; frame++ {
		if pmm.IsClaimed(frame.Address()) {
			dc.SetColor(colorClaimed)
		} else {
			dc.SetColor(colorFree)
		}

		x := float64(int(frame)%columns) * float64(cellSize)
		y := float64(int(frame)/columns) * float64(cellSize)
		dc.DrawRectangle(x, y, float64(cellSize), float64(cellSize))
		dc.Fill()
	}

	return dc
}
