package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bankscout/bankscout/engine/pipeline"
)

// output writes records as JSON lines, one file per run in dir, or to w
// when dir is empty.
type output struct {
	dir string
	w   io.Writer
	now func() time.Time
}

func newOutput(dir string, w io.Writer) *output {
	return &output{dir: dir, w: w, now: time.Now}
}

func (o *output) write(oc pipeline.Outcome) error {
	if len(oc.Records) == 0 {
		return nil
	}
	if o.dir == "" {
		return encode(o.w, oc)
	}

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(o.dir, fmt.Sprintf("%s-%d.jsonl", oc.Report.Source, o.now().Unix()))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := encode(f, oc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encode(w io.Writer, oc pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	for _, r := range oc.Records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}
