package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/interaction"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	image      string
	dir        string
	index      int
	list       bool
	polygon    string
	rect       string
	deleteID   int
	click      string
	render     string
	suggestID  int
	debug      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("annotate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", "", "config file (default "+config.GetConfigPath()+" when present)")
	fs.StringVar(&o.image, "image", "", "image to open")
	fs.StringVar(&o.dir, "dir", "", "directory of images to browse")
	fs.IntVar(&o.index, "index", 1, "1-based position of the image to open within -dir")
	fs.BoolVar(&o.list, "list", false, "print the regions of the open image")
	fs.StringVar(&o.polygon, "polygon", "", `add a polygon: "label:x,y x,y x,y" in display coordinates (shape-list files)`)
	fs.StringVar(&o.rect, "rect", "", `add a rectangle: "label:x,y x,y" in display coordinates (object-list files)`)
	fs.IntVar(&o.deleteID, "delete", -1, "delete the region with this id")
	fs.StringVar(&o.click, "click", "", `click at "x,y": toggles the region under the point`)
	fs.StringVar(&o.render, "render", "", "write the annotated display image to this file or directory")
	fs.IntVar(&o.suggestID, "suggest", -1, "ask the vision model for a label for this region id")
	fs.BoolVar(&o.debug, "debug", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if (o.image == "") == (o.dir == "") {
		return nil, fmt.Errorf("exactly one of -image or -dir is required")
	}
	return &o, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.debug {
		cfg.Debug = true
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	s, err := imageannotator.New(cfg, logger)
	if err != nil {
		return err
	}

	if o.dir != "" {
		n, err := s.OpenDir(o.dir)
		if err != nil {
			return err
		}
		if o.index != 1 {
			if o.index < 1 || o.index > n {
				return fmt.Errorf("-index %d out of range 1..%d", o.index, n)
			}
			if err := s.Open(o.index - 1); err != nil {
				return err
			}
		}
	} else if err := s.OpenImage(o.image); err != nil {
		return err
	}

	cur, total := s.Position()
	fmt.Fprintf(stdout, "image %d of %d: %s\n", cur, total, s.Current())

	if o.deleteID >= 0 {
		if err := s.Delete(o.deleteID); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted region %d\n", o.deleteID)
	}
	if o.polygon != "" {
		if err := drawPolygon(s, o.polygon, stdout); err != nil {
			return err
		}
	}
	if o.rect != "" {
		if err := drawRectangle(s, o.rect, stdout); err != nil {
			return err
		}
	}
	if o.click != "" {
		p, err := parsePoint(o.click)
		if err != nil {
			return err
		}
		res, err := s.Click(p)
		if err != nil {
			return err
		}
		if res.Action == interaction.RegionToggled {
			fmt.Fprintf(stdout, "region %d visible=%t\n", res.Region.ID, res.Region.Visible)
		} else {
			fmt.Fprintln(stdout, "no region at", p)
		}
	}
	if o.suggestID >= 0 {
		label, err := s.Suggest(context.Background(), o.suggestID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "suggested label for region %d: %s\n", o.suggestID, label)
	}
	if o.list {
		list(s, stdout)
	}
	if o.render != "" {
		path, err := s.SaveRender(o.render)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "rendered %s\n", path)
	}
	return nil
}

func drawPolygon(s *imageannotator.Session, arg string, stdout io.Writer) error {
	label, pts, err := parseShape(arg)
	if err != nil {
		return err
	}
	if len(pts) < 3 {
		return fmt.Errorf("-polygon needs at least 3 points, got %d", len(pts))
	}
	if err := s.StartDrawing(annotation.Polygon, label); err != nil {
		return err
	}
	for _, p := range pts[:len(pts)-1] {
		if _, err := s.Click(p); err != nil {
			return err
		}
	}
	res, err := s.DoubleClick(pts[len(pts)-1])
	if err != nil {
		return err
	}
	return reportCreated(res, stdout)
}

func drawRectangle(s *imageannotator.Session, arg string, stdout io.Writer) error {
	label, pts, err := parseShape(arg)
	if err != nil {
		return err
	}
	if len(pts) != 2 {
		return fmt.Errorf("-rect needs exactly 2 points, got %d", len(pts))
	}
	if err := s.StartDrawing(annotation.Rectangle, label); err != nil {
		return err
	}
	var res interaction.Result
	for _, p := range pts {
		if res, err = s.Click(p); err != nil {
			return err
		}
	}
	return reportCreated(res, stdout)
}

func reportCreated(res interaction.Result, stdout io.Writer) error {
	if res.Action != interaction.RegionCreated {
		return errors.New("drawing did not complete")
	}
	fmt.Fprintf(stdout, "added %s %q as region %d\n", res.Region.Kind, res.Region.Label, res.Region.ID)
	return nil
}

func list(s *imageannotator.Session, stdout io.Writer) {
	store := s.Store()
	if store == nil {
		fmt.Fprintln(stdout, "no annotation file")
		return
	}
	fmt.Fprintf(stdout, "%s (%s, %d regions)\n", store.Path(), store.Format(), store.Len())
	records := store.Records()
	for i, r := range store.Regions() {
		fmt.Fprintf(stdout, "%3d  %-9s  %-20s  %s  %v\n", r.ID, r.Kind, r.Caption(), r.Handle, records[i].Points)
	}
}

// parseShape splits "label:x,y x,y ..." into its label and points. The label
// may be empty to reuse the previous one.
func parseShape(arg string) (string, []geometry.Point, error) {
	i := strings.LastIndex(arg, ":")
	if i < 0 {
		return "", nil, fmt.Errorf("invalid shape %q: want label:x,y x,y", arg)
	}
	label := strings.TrimSpace(arg[:i])
	var pts []geometry.Point
	for _, field := range strings.Fields(arg[i+1:]) {
		p, err := parsePoint(field)
		if err != nil {
			return "", nil, err
		}
		pts = append(pts, p)
	}
	return label, pts, nil
}

func parsePoint(s string) (geometry.Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return geometry.Point{}, fmt.Errorf("invalid point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return geometry.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return geometry.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return geometry.Pt(x, y), nil
}
