package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// JobConfig describes one restoration job end to end: which stages run
// and with what settings. It round-trips through checkpoint metadata so
// an interrupted job can be re-launched without its original flags.
type JobConfig struct {
	InputFile  string               `json:"input_file"`
	OutputFile string               `json:"output_file"`
	Encode     EncodeSettings       `json:"encode"`
	Inpaint    *InpaintSettings     `json:"inpaint,omitempty"`
	FaceEnh    *FaceEnhanceSettings `json:"face_enhance,omitempty"`
}

// EncodeSettings controls the filter-and-encode stage.
type EncodeSettings struct {
	FilterScript string `json:"filter_script"`
	Codec        string `json:"codec"`
	CRF          int    `json:"crf"`
	Preset       string `json:"preset"`
}

// InpaintSettings controls logo and artifact removal.
type InpaintSettings struct {
	MaskFile    string `json:"mask_file"`
	Mode        string `json:"mode"`
	NeighborLen int    `json:"neighbor_len"`
	RefStride   int    `json:"ref_stride"`
}

// FaceEnhanceSettings controls GFPGAN face restoration.
type FaceEnhanceSettings struct {
	Version     string  `json:"version"`
	Upscale     int     `json:"upscale"`
	OnlyCenter  bool    `json:"only_center"`
	WeightBlend float64 `json:"weight_blend"`
}

// Known codec names for the encode stage; anything else is rejected
// before work starts.
var knownCodecs = map[string]bool{
	"ffv1":     true,
	"prores":   true,
	"x264":     true,
	"x265":     true,
	"av1":      true,
	"lossless": true,
}

func (j JobConfig) Validate() error {
	if strings.TrimSpace(j.InputFile) == "" {
		return fmt.Errorf("input file is required")
	}
	if strings.TrimSpace(j.OutputFile) == "" {
		return fmt.Errorf("output file is required")
	}
	if strings.TrimSpace(j.Encode.FilterScript) == "" {
		return fmt.Errorf("filter script is required")
	}
	codec := strings.ToLower(strings.TrimSpace(j.Encode.Codec))
	if codec != "" && !knownCodecs[codec] {
		return fmt.Errorf("unknown codec %q", j.Encode.Codec)
	}
	if j.Inpaint != nil && strings.TrimSpace(j.Inpaint.MaskFile) == "" && j.Inpaint.Mode != "auto" {
		return fmt.Errorf("inpainting requires a mask file unless mode is auto")
	}
	if j.FaceEnh != nil && j.FaceEnh.Upscale < 1 {
		return fmt.Errorf("face enhance upscale must be at least 1, got %d", j.FaceEnh.Upscale)
	}
	return nil
}

// WorkDir is the scratch root for this job's intermediates, placed next
// to the output so partial artifacts survive a move of the output tree.
func (j JobConfig) WorkDir() string {
	return filepath.Join(filepath.Dir(j.OutputFile), ".tape-restorer-work")
}

// EncodeSettingsMap flattens the settings that invalidate encode
// progress when changed, for hashing.
func (j JobConfig) EncodeSettingsMap() map[string]string {
	return map[string]string{
		"filter_script": j.Encode.FilterScript,
		"codec":         strings.ToLower(strings.TrimSpace(j.Encode.Codec)),
		"crf":           strconv.Itoa(j.Encode.CRF),
		"preset":        j.Encode.Preset,
	}
}

// InpaintSettingsMap flattens inpaint settings for hashing. Nil settings
// hash as an empty map.
func (j JobConfig) InpaintSettingsMap() map[string]string {
	if j.Inpaint == nil {
		return map[string]string{}
	}
	return map[string]string{
		"mask_file":    j.Inpaint.MaskFile,
		"mode":         j.Inpaint.Mode,
		"neighbor_len": strconv.Itoa(j.Inpaint.NeighborLen),
		"ref_stride":   strconv.Itoa(j.Inpaint.RefStride),
	}
}

// FaceEnhanceSettingsMap flattens face-enhance settings for hashing.
func (j JobConfig) FaceEnhanceSettingsMap() map[string]string {
	if j.FaceEnh == nil {
		return map[string]string{}
	}
	return map[string]string{
		"version":      j.FaceEnh.Version,
		"upscale":      strconv.Itoa(j.FaceEnh.Upscale),
		"only_center":  strconv.FormatBool(j.FaceEnh.OnlyCenter),
		"weight_blend": strconv.FormatFloat(j.FaceEnh.WeightBlend, 'f', -1, 64),
	}
}
