package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dunamismax/hueshift/internal/apng"
	"github.com/dunamismax/hueshift/internal/pipeline"
)

type RecolorCmd struct {
	AdjustmentFlags `embed:""`

	Input  string `arg:"" name:"input" help:"PNG or APNG file."`
	Output string `help:"Output path (default <input>_edited.png next to the input)." short:"o"`
}

type fileResult struct {
	Input    string `json:"input"`
	Output   string `json:"output,omitempty"`
	Kind     string `json:"kind"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Frames   int    `json:"frames,omitempty"`
	Modified bool   `json:"modified"`
	Error    string `json:"error,omitempty"`
}

func (c *RecolorCmd) Run(rt *session) error {
	output := c.Output
	if output == "" {
		output = filepath.Join(filepath.Dir(c.Input), pipeline.EditedName(c.Input))
	}

	res, err := recolorFile(rt, c.Input, output, c.AdjustmentFlags)
	if err != nil {
		return err
	}
	return rt.print([]fileResult{res})
}

type BatchCmd struct {
	AdjustmentFlags `embed:""`

	Inputs   []string `arg:"" name:"inputs" help:"Files to recolor."`
	OutDir   string   `help:"Directory receiving <name>_edited.png files." name:"out-dir" short:"d" required:""`
	Parallel int      `help:"Files processed concurrently." short:"p" default:"2"`
}

// Run recolors every input. A file that cannot be read or written is reported
// and counted; the remaining files are still processed.
func (c *BatchCmd) Run(rt *session) error {
	outputs := batchOutputs(c.OutDir, c.Inputs)
	results := make([]fileResult, len(c.Inputs))
	sem := make(chan struct{}, max(1, c.Parallel))
	var wg sync.WaitGroup

	for i, input := range c.Inputs {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := recolorFile(rt, input, outputs[i], c.AdjustmentFlags)
			if err != nil {
				res = fileResult{Input: input, Error: err.Error()}
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if err := rt.print(results); err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if res.Output == "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// batchOutputs maps each input to an output path in dir. Inputs sharing a base
// name get a numeric suffix, so s.png and other/s.png become s_edited.png and
// s_edited-2.png.
func batchOutputs(dir string, inputs []string) []string {
	outputs := make([]string, len(inputs))
	taken := make(map[string]bool, len(inputs))
	for i, input := range inputs {
		name := pipeline.EditedName(input)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		for n := 2; taken[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s-%d.png", stem, n)
		}
		taken[strings.ToLower(name)] = true
		outputs[i] = filepath.Join(dir, name)
	}
	return outputs
}

func recolorFile(rt *session, input, output string, flags AdjustmentFlags) (fileResult, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return fileResult{}, fmt.Errorf("read %s: %w", input, err)
	}
	if err := rt.ctx.Err(); err != nil {
		return fileResult{}, err
	}

	out := rt.recolorer.Recolor(rt.ctx, data, flags.adjustment())
	if err := rt.recolorer.SaveFile(output, out.Data); err != nil {
		return fileResult{}, err
	}

	res := fileResult{
		Input:    input,
		Output:   output,
		Kind:     out.Kind.String(),
		Width:    out.Width,
		Height:   out.Height,
		Frames:   out.Frames,
		Modified: out.Modified,
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res, nil
}

type DetectCmd struct {
	Files []string `arg:"" name:"files" help:"Files to inspect."`
}

type detectResult struct {
	File             string `json:"file"`
	Kind             string `json:"kind"`
	HasFrameControl  bool   `json:"has_frame_control"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	Frames           int    `json:"frames,omitempty"`
	LoopCount        int    `json:"loop_count,omitempty"`
	DroppedFrames    int    `json:"dropped_frames,omitempty"`
	StrictDecodeErr  string `json:"strict_error,omitempty"`
	LenientDecodeErr string `json:"lenient_error,omitempty"`
}

func (c *DetectCmd) Run(rt *session) error {
	results := make([]detectResult, 0, len(c.Files))
	for _, file := range c.Files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		results = append(results, detect(rt.decoder, file, data))
	}

	if rt.json {
		return writeJSON(rt, results)
	}
	for _, r := range results {
		line := fmt.Sprintf("%s\t%s\t%dx%d\tframes=%d", r.File, r.Kind, r.Width, r.Height, r.Frames)
		if r.HasFrameControl && r.Kind == pipeline.KindStatic.String() {
			line += "\torphan-frame-control"
		}
		if r.StrictDecodeErr != "" {
			line += "\tstrict=" + r.StrictDecodeErr
		}
		if r.LenientDecodeErr != "" {
			line += "\tlenient=" + r.LenientDecodeErr
		}
		if _, err := fmt.Fprintln(rt.stdout, line); err != nil {
			return err
		}
	}
	return nil
}

func detect(dec apng.Decoder, file string, data []byte) detectResult {
	kind := pipeline.Classify(data)
	res := detectResult{
		File:            file,
		Kind:            kind.String(),
		HasFrameControl: apng.HasFrameControl(data),
	}

	if kind == pipeline.KindStatic {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			res.StrictDecodeErr = err.Error()
			return res
		}
		res.Width, res.Height, res.Frames = cfg.Width, cfg.Height, 1
		return res
	}

	anim, err := dec.Decode(data)
	if err == nil {
		res.Width, res.Height = anim.Width, anim.Height
		res.Frames, res.LoopCount = len(anim.Frames), anim.LoopCount
		return res
	}
	res.StrictDecodeErr = err.Error()

	anim, report, err := dec.DecodeLenient(data)
	if err != nil {
		res.LenientDecodeErr = err.Error()
		return res
	}
	res.Width, res.Height = anim.Width, anim.Height
	res.Frames, res.LoopCount = len(anim.Frames), anim.LoopCount
	res.DroppedFrames = report.Dropped
	return res
}

func (rt *session) print(results []fileResult) error {
	if rt.json {
		return writeJSON(rt, results)
	}
	for _, r := range results {
		var line string
		switch {
		case r.Output == "":
			line = fmt.Sprintf("%s\tfailed\t%s", r.Input, r.Error)
		case r.Modified:
			line = fmt.Sprintf("%s -> %s\t%s\t%dx%d\tframes=%d", r.Input, r.Output, r.Kind, r.Width, r.Height, r.Frames)
		default:
			line = fmt.Sprintf("%s -> %s\t%s\tunchanged\t%s", r.Input, r.Output, r.Kind, r.Error)
		}
		if _, err := fmt.Fprintln(rt.stdout, line); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(rt *session, v any) error {
	enc := json.NewEncoder(rt.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
