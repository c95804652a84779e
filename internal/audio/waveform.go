package audio

import "strings"

// MinMax is the sample range covered by one waveform column.
type MinMax struct {
	Min float32
	Max float32
}

// WaveformColumns splits samples into columns of equal width and returns the
// extremes of each. It returns nil when there is nothing to draw.
func WaveformColumns(samples []float32, columns int) []MinMax {
	if columns < 1 || len(samples) == 0 {
		return nil
	}

	columns = min(columns, len(samples))
	out := make([]MinMax, columns)
	for c := range out {
		start := c * len(samples) / columns
		end := (c + 1) * len(samples) / columns

		mm := MinMax{Min: samples[start], Max: samples[start]}
		for _, s := range samples[start+1 : end] {
			mm.Min = min(mm.Min, s)
			mm.Max = max(mm.Max, s)
		}
		out[c] = mm
	}

	return out
}

// RenderWaveform draws columns as text, height rows tall, with amplitude 1.0
// reaching the top and bottom rows.
func RenderWaveform(columns []MinMax, height int) []string {
	if height < 1 || len(columns) == 0 {
		return nil
	}

	rows := make([][]byte, height)
	for r := range rows {
		rows[r] = []byte(strings.Repeat(" ", len(columns)))
	}

	toRow := func(v float32) int {
		v = max(-1, min(1, v))
		r := int((1 - v) / 2 * float32(height-1))
		return max(0, min(height-1, r))
	}

	for c, mm := range columns {
		for r := toRow(mm.Max); r <= toRow(mm.Min); r++ {
			rows[r][c] = '#'
		}
	}

	lines := make([]string, height)
	for r, row := range rows {
		lines[r] = string(row)
	}

	return lines
}
