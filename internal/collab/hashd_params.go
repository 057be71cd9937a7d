package collab

import (
	"math"
	"time"
)

const msec = float64(time.Millisecond) / float64(time.Second)

// FileFracMin is the smallest page-cache proportion rd-hashd accepts.
const FileFracMin = 0.001

// HashdParamsDoc is written above params.json so operators can edit it by hand.
const HashdParamsDoc = `//
// rd-hashd runtime parameters
//
// All parameters can be updated while running and will be applied immediately.
// Durations are in seconds and memory in bytes. A _frac field is <= 1.0 and
// is a proportion of another value; a _ratio field may exceed 1.0.
//
// Concurrency is modulated by two PID controllers targeting lat_target at
// lat_target_pct and rps_target, whichever is hit first, capped at
// concurrency_max.
//
`

// PidParams are the gains of one PID controller.
type PidParams struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// HashdParams are rd-hashd's dispatch and hash parameters.
type HashdParams struct {
	ControlPeriod       float64   `json:"control_period"`
	ConcurrencyMax      uint32    `json:"concurrency_max"`
	LatTargetPct        float64   `json:"lat_target_pct"`
	LatTarget           float64   `json:"lat_target"`
	RpsTarget           uint32    `json:"rps_target"`
	RpsMax              uint32    `json:"rps_max"`
	MemFrac             float64   `json:"mem_frac"`
	ChunkPages          uint64    `json:"chunk_pages"`
	FileFrac            float64   `json:"file_frac"`
	FileSizeMean        uint64    `json:"file_size_mean"`
	FileSizeStdevRatio  float64   `json:"file_size_stdev_ratio"`
	FileAddrStdevRatio  float64   `json:"file_addr_stdev_ratio"`
	FileAddrRpsBaseFrac float64   `json:"file_addr_rps_base_frac"`
	FileWriteFrac       float64   `json:"file_write_frac"`
	AnonSizeRatio       float64   `json:"anon_size_ratio"`
	AnonSizeStdevRatio  float64   `json:"anon_size_stdev_ratio"`
	AnonAddrStdevRatio  float64   `json:"anon_addr_stdev_ratio"`
	AnonAddrRpsBaseFrac float64   `json:"anon_addr_rps_base_frac"`
	AnonWriteFrac       float64   `json:"anon_write_frac"`
	SleepMean           float64   `json:"sleep_mean"`
	SleepStdevRatio     float64   `json:"sleep_stdev_ratio"`
	CPURatio            float64   `json:"cpu_ratio"`
	LogBps              uint64    `json:"log_bps"`
	FakeCPULoad         bool      `json:"fake_cpu_load"`
	AccDistSlots        uint64    `json:"acc_dist_slots"`
	LatPid              PidParams `json:"lat_pid"`
	RpsPid              PidParams `json:"rps_pid"`
	AnonHistogram       []uint64  `json:"anon_histogram"`
}

// DefaultHashdParams returns rd-hashd's built-in defaults.
func DefaultHashdParams() HashdParams {
	return HashdParams{
		ControlPeriod:       1.0,
		ConcurrencyMax:      65536,
		LatTargetPct:        0.95,
		LatTarget:           75.0 * msec,
		RpsTarget:           65536,
		RpsMax:              0,
		ChunkPages:          25,
		MemFrac:             0.80,
		FileFrac:            0.25,
		FileSizeMean:        1258291,
		FileSizeStdevRatio:  0.45,
		FileAddrStdevRatio:  0.215,
		FileAddrRpsBaseFrac: 0.5,
		FileWriteFrac:       0.0,
		AnonSizeRatio:       2.3,
		AnonSizeStdevRatio:  0.45,
		AnonAddrStdevRatio:  0.235,
		AnonAddrRpsBaseFrac: 0.5,
		AnonWriteFrac:       0.3,
		SleepMean:           20.0 * msec,
		SleepStdevRatio:     0.33,
		CPURatio:            0.93,
		LogBps:              1100794,
		FakeCPULoad:         false,
		AccDistSlots:        0,
		LatPid:              PidParams{Kp: 0.1, Ki: 0.01, Kd: 0.01},
		RpsPid:              PidParams{Kp: 0.25, Ki: 0.01, Kd: 0.01},
		AnonHistogram:       []uint64{},
	}
}

// Loaded applies the fixups rd-hashd performs after reading the file.
func (p *HashdParams) Loaded() {
	p.FileFrac = math.Max(p.FileFrac, FileFracMin)
}

// LogPadding is the per-request log padding that yields LogBps at RpsMax.
func (p *HashdParams) LogPadding() uint64 {
	if p.RpsMax == 0 {
		return 0
	}
	return uint64(math.Round(float64(p.LogBps) / float64(p.RpsMax)))
}
