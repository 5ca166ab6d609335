package oifits

import (
	"testing"
)

// obs is one row of a VIS2 test table.
type obs struct {
	target int64
	mjd    float64
	sta    [2]int64
}

// sample describes a small single-VIS2 file.
type sample struct {
	targets  []Target
	insName  string
	wave     []float64
	band     []float64
	arrName  string
	stations []string
	rows     []obs
}

func defaultSample() sample {
	return sample{
		targets:  []Target{{Name: "HD1", RA: 10, Dec: -20}},
		insName:  "PIONIER",
		wave:     []float64{1.6e-6, 1.7e-6, 1.8e-6},
		band:     []float64{0.1e-6, 0.1e-6, 0.1e-6},
		arrName:  "VLTI",
		stations: []string{"A0", "B1", "C1"},
		rows: []obs{
			{target: 1, mjd: 58000.1, sta: [2]int64{1, 2}},
			{target: 1, mjd: 58000.2, sta: [2]int64{2, 3}},
			{target: 1, mjd: 58001.1, sta: [2]int64{1, 3}},
		},
	}
}

// buildFile registers a target, array, wavelength and VIS2 table. VIS2DATA
// holds row*10+channel.
func buildFile(t *testing.T, path string, fs sample) *File {
	t.Helper()
	f := NewFile(WithPath(path))

	ids := make([]int64, len(fs.targets))
	names := make([]string, len(fs.targets))
	ra := make([]float64, len(fs.targets))
	dec := make([]float64, len(fs.targets))
	for i, tg := range fs.targets {
		ids[i], names[i], ra[i], dec[i] = int64(i+1), tg.Name, tg.RA, tg.Dec
	}
	target, err := NewTargetTable(ids, names, ra, dec)
	mustNil(t, err)
	mustNil(t, f.Register(target))

	if fs.arrName != "" {
		idx := make([]int64, len(fs.stations))
		for i := range fs.stations {
			idx[i] = int64(i + 1)
		}
		arr, err := NewArrayTable(fs.arrName, idx, fs.stations)
		mustNil(t, err)
		mustNil(t, f.Register(arr))
	}

	wave, err := NewWavelengthTable(fs.insName, fs.wave, fs.band)
	mustNil(t, err)
	mustNil(t, f.Register(wave))

	tids := make([]int64, len(fs.rows))
	mjds := make([]float64, len(fs.rows))
	sta := make([]int64, 0, 2*len(fs.rows))
	data := make([]float64, 0, len(fs.rows)*len(fs.wave))
	for r, o := range fs.rows {
		tids[r], mjds[r] = o.target, o.mjd
		sta = append(sta, o.sta[0], o.sta[1])
		for ch := range fs.wave {
			data = append(data, float64(r*10+ch))
		}
	}
	vis2, err := NewDataTable(KindVis2, fs.insName, fs.arrName, tids, mjds, sta)
	mustNil(t, err)
	mustNil(t, vis2.AddColumn(NewSpectralColumn("VIS2DATA", len(fs.wave), data)))
	mustNil(t, f.Register(vis2))
	return f
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func collectionOf(t *testing.T, opts []CollectionOption, files ...*File) *Collection {
	t.Helper()
	c := NewCollection(opts...)
	for _, f := range files {
		c.AddFile(f)
	}
	return c
}
