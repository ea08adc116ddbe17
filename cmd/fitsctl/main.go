package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"example.com/fitsgate/internal/catalog"
	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/fits"
	"example.com/fitsgate/internal/manifest"
	"example.com/fitsgate/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		return
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "header":
		return headerCmd(args, out)
	case "info":
		return infoCmd(args, out)
	case "verify":
		return verifyCmd(args, out)
	case "encode":
		return encodeCmd(args, out)
	case "decode":
		return decodeCmd(args, out)
	case "set-header":
		return setHeaderCmd(args, out)
	case "manifest":
		return manifestCmd(args, out)
	case "report":
		return reportCmd(args, out)
	case "index":
		return indexCmd(args, out)
	case "query":
		return queryCmd(args, out)
	case "version":
		fmt.Fprintf(out, "fitsctl %s (built %s)\n", version, buildDate)
		return nil
	case "help", "-h", "--help":
		usage(out)
		return nil
	}
	usage(out)
	return fmt.Errorf("unknown command %q", cmd)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `fitsctl %s (built %s) <command> [options]

Commands:
  header     --in <file.fits> [--hdu <n>] [--primary] [--json]
  info       --in <file.fits>
  verify     <file.fits>...
  encode     --in <pixels.raw> --out <file.fits> --width <w> --height <h> [--encoding <type>] [--header <h.yaml|h.json>] [--set KEY=VALUE]...
  decode     --in <file.fits> --out <pixels.raw> [--image <n>] [--stats]
  set-header --in <file.fits> [--header <h.yaml>] [--set KEY=VALUE]... [--audit <audit.jsonl>]
  manifest   --out <manifest.json> <file>... | --check <manifest.json>
  report     --in <file.fits> [--json <summary.json>] [--pdf <summary.pdf>]
  index      --catalog <catalog.db> <file-or-dir>...
  query      --catalog <catalog.db> [--keyword K [--value V | --min A --max B]]

Every command also accepts --config <config.yaml>, --metrics and --log-dir <dir>.
Raw pixel files hold native-endian samples.
`, version, buildDate)
}

func headerCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("header", flag.ContinueOnError)
	in := fs.String("in", "", "input FITS file")
	hdu := fs.Int("hdu", -1, "only print this HDU (0 is the primary)")
	primary := fs.Bool("primary", false, "read only the primary header blocks")
	asJSON := fs.Bool("json", false, "print JSON instead of cards")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := singleInput(*in, fs)
	if err != nil {
		return err
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	if *primary {
		h, err := fits.ReadFileHeader(path)
		if err != nil {
			return err
		}
		if *asJSON {
			return writeJSON(out, h)
		}
		for _, k := range h.Keys() {
			fmt.Fprintf(out, "%-8s= %s\n", k, h[k])
		}
		return nil
	}

	hdus, err := fits.ReadFile(path, env.readOptions())
	if err != nil {
		return err
	}
	indices, err := selectHDUs(len(hdus), *hdu)
	if err != nil {
		return err
	}
	if *asJSON {
		summaries := make([]report.HDUSummary, 0, len(indices))
		for _, i := range indices {
			summaries = append(summaries, report.SummarizeHDU(i, hdus[i], false))
		}
		return writeJSON(out, summaries)
	}
	for n, i := range indices {
		if n > 0 {
			fmt.Fprintln(out)
		}
		h := hdus[i]
		fmt.Fprintf(out, "HDU %d (%s)\n", i, h.Kind())
		for _, c := range h.Cards {
			line := fmt.Sprintf("%-8s", c.Keyword)
			if !c.Value.IsUndefined() {
				line += "= " + c.Value.String()
			}
			if c.Comment != "" {
				line += " / " + c.Comment
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func infoCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	in := fs.String("in", "", "input FITS file")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := singleInput(*in, fs)
	if err != nil {
		return err
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	hdus, err := fits.ReadFile(path, env.readOptions())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HDU\tKIND\tBITPIX\tAXES\tENCODING\tCARDS\tDATA\tMIN\tMAX")
	for _, s := range report.SummarizeHDUs(hdus, true) {
		minVal, maxVal := "-", "-"
		if s.Stats != nil {
			minVal = strconv.FormatFloat(s.Stats.Min, 'g', -1, 64)
			maxVal = strconv.FormatFloat(s.Stats.Max, 'g', -1, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.Index, s.Kind, s.Bitpix, axesLabel(s.Axes), s.Encoding, s.Cards,
			common.FormatBytes(int64(s.DataBytes)), minVal, maxVal)
	}
	return tw.Flush()
}

func verifyCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	in := fs.String("in", "", "input FITS file")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := inputs(*in, fs)
	if len(paths) == 0 {
		return errors.New("required: at least one FITS file")
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	failed := 0
	for _, p := range paths {
		hdus, err := fits.ReadFile(p, env.readOptions())
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", p, err)
			continue
		}
		fmt.Fprintf(out, "OK   %s (%d HDUs)\n", p, len(hdus))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(paths))
	}
	return nil
}

func encodeCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	in := fs.String("in", "", "raw native-endian pixel file")
	outPath := fs.String("out", "", "output FITS file")
	width := fs.Int("width", 0, "image width (NAXIS1)")
	height := fs.Int("height", 0, "image height (NAXIS2)")
	encoding := fs.String("encoding", "", "sample type: uint8, int16, int32, float32, float64 or a BITPIX code")
	headerPath := fs.String("header", "", "YAML or JSON header sidecar")
	var sets multiFlag
	fs.Var(&sets, "set", "header KEY=VALUE (repeatable)")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outPath == "" {
		return errors.New("required: --in and --out")
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	pixels, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	header, skipped, err := buildHeader(*headerPath, sets)
	if err != nil {
		return err
	}
	explicit, err := fits.ParseEncoding(*encoding)
	if err != nil {
		return err
	}
	def, err := env.cfg.DefaultEncoding()
	if err != nil {
		return err
	}
	enc, err := fits.ResolveEncoding(explicit, header, def)
	if err != nil {
		return err
	}
	rep, err := fits.EncodeFile(*outPath, pixels, *width, *height, enc, header)
	if err != nil {
		return err
	}
	env.metrics.AddBytes(int64(len(pixels)))
	fmt.Fprintf(out, "wrote %s: %dx%d %s, %d header keys\n", *outPath, *width, *height, enc, rep.Written)
	printSkipped(out, append(skipped, rep.Skipped...))
	common.Logf("encode %s: %dx%d %s", *outPath, *width, *height, enc)
	return nil
}

func decodeCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	in := fs.String("in", "", "input FITS file")
	outPath := fs.String("out", "", "raw native-endian pixel output")
	image := fs.Int("image", 0, "index among image HDUs (0 is the first image)")
	stats := fs.Bool("stats", false, "print sample statistics")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := singleInput(*in, fs)
	if err != nil {
		return err
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	hdus, err := fits.ReadFile(path, env.readOptions())
	if err != nil {
		return err
	}
	var images []fits.HDU
	for _, h := range hdus {
		if h.IsImage() {
			images = append(images, h)
		}
	}
	if *image < 0 || *image >= len(images) {
		return fmt.Errorf("image %d not found, file has %d image HDUs", *image, len(images))
	}
	img, err := images[*image].Image()
	if err != nil {
		return err
	}
	if *outPath != "" {
		if err := os.WriteFile(*outPath, img.Pixels, 0o644); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%dx%d %s, %d bytes\n", img.Width, img.Height, img.Encoding, len(img.Pixels))
	if *stats {
		st, err := img.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "count=%d nan=%d min=%g max=%g mean=%g\n", st.Count, st.NaN, st.Min, st.Max, st.Mean)
	}
	return nil
}

func setHeaderCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("set-header", flag.ContinueOnError)
	in := fs.String("in", "", "FITS file to update in place")
	headerPath := fs.String("header", "", "YAML or JSON header sidecar")
	auditPath := fs.String("audit", "", "append changed keywords to this JSONL audit log")
	var sets multiFlag
	fs.Var(&sets, "set", "header KEY=VALUE (repeatable)")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := singleInput(*in, fs)
	if err != nil {
		return err
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	header, skipped, err := buildHeader(*headerPath, sets)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		return errors.New("nothing to set: use --header or --set")
	}
	rep, edits, err := fits.UpdateHeader(path, header)
	if err != nil {
		return err
	}
	for _, e := range edits {
		before := "(new)"
		if e.Before != nil {
			before = e.Before.String()
		}
		fmt.Fprintf(out, "%-8s %s -> %s\n", e.Keyword, before, e.After)
	}
	fmt.Fprintf(out, "updated %s: %d changed\n", path, rep.Written)
	printSkipped(out, append(skipped, rep.Skipped...))
	if *auditPath == "" || len(edits) == 0 {
		return nil
	}
	d, err := common.DigestFile(path)
	if err != nil {
		return err
	}
	entries := make([]common.AuditEntry, 0, len(edits))
	for _, e := range edits {
		entry := common.AuditEntry{File: path, SHA256: d.SHA256, Keyword: e.Keyword, After: e.After.Interface()}
		if e.Before != nil {
			entry.Before = e.Before.Interface()
		}
		entries = append(entries, entry)
	}
	if err := common.NewAuditLog(*auditPath).Append(entries...); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	common.Logf("set-header %s: %d edits logged to %s", path, len(edits), *auditPath)
	return nil
}

func manifestCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	inputsFlag := fs.String("inputs", "", "comma-separated input files")
	outPath := fs.String("out", "manifest.json", "manifest output")
	check := fs.String("check", "", "verify files against an existing manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *check != "" {
		m, err := manifest.Load(*check)
		if err != nil {
			return err
		}
		bad := manifest.Check(m)
		for _, mm := range bad {
			fmt.Fprintf(out, "MISMATCH %s: %s\n", mm.Path, mm.Reason)
		}
		if len(bad) > 0 {
			return fmt.Errorf("%d of %d items changed", len(bad), len(m.Items))
		}
		fmt.Fprintf(out, "%d items match\n", len(m.Items))
		return nil
	}
	var paths []string
	for _, p := range strings.Split(*inputsFlag, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	paths = append(paths, fs.Args()...)
	if len(paths) == 0 {
		return errors.New("required: --inputs or file arguments")
	}
	m, err := manifest.Build(paths)
	if err != nil {
		return err
	}
	if err := manifest.Save(m, *outPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s with %d items\n", *outPath, len(m.Items))
	return nil
}

func reportCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	in := fs.String("in", "", "input FITS file")
	jsonOut := fs.String("json", "", "summary JSON output")
	pdfOut := fs.String("pdf", "", "summary PDF output")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := singleInput(*in, fs)
	if err != nil {
		return err
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	s, err := report.Summarize(path, env.readOptions())
	if err != nil {
		return err
	}
	if *jsonOut == "" && *pdfOut == "" {
		return writeJSON(out, s)
	}
	if *jsonOut != "" {
		if err := report.SaveJSON(s, *jsonOut); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", *jsonOut)
	}
	if *pdfOut != "" {
		if err := report.SavePDF(s, *pdfOut); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", *pdfOut)
	}
	return nil
}

func indexCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	catalogPath := fs.String("catalog", "", "SQLite catalog (defaults to the config catalog)")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("required: files or directories to index")
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	cat, err := env.openCatalog(*catalogPath)
	if err != nil {
		return err
	}
	defer cat.Close()
	files, err := collectFITS(fs.Args())
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, p := range files {
		s, err := cat.IndexFile(ctx, p, env.readOptions())
		if err != nil {
			return fmt.Errorf("index %s: %w", p, err)
		}
		if s.Valid {
			fmt.Fprintf(out, "indexed %s (%d HDUs)\n", p, len(s.HDUs))
		} else {
			fmt.Fprintf(out, "indexed %s (invalid: %s)\n", p, s.Error)
		}
	}
	common.Logf("index %s: %d files", cat.Path(), len(files))
	return nil
}

func queryCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	catalogPath := fs.String("catalog", "", "SQLite catalog (defaults to the config catalog)")
	keyword := fs.String("keyword", "", "header keyword; omit to list indexed files")
	value := fs.String("value", "", "match this value")
	minStr := fs.String("min", "", "numeric lower bound")
	maxStr := fs.String("max", "", "numeric upper bound")
	asJSON := fs.Bool("json", false, "print JSON")
	ef := addEnvFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	env, err := ef.open()
	if err != nil {
		return err
	}
	defer env.finish(out)

	cat, err := env.openCatalog(*catalogPath)
	if err != nil {
		return err
	}
	defer cat.Close()
	ctx := context.Background()

	if *keyword == "" {
		files, err := cat.Files(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return writeJSON(out, files)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tHDUS\tVALID\tSIZE")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%d\t%v\t%s\n", f.Path, f.HDUs, f.Valid, common.FormatBytes(f.Size))
		}
		return tw.Flush()
	}

	var matches []catalog.Match
	if *minStr != "" || *maxStr != "" {
		lo, hi := -1e308, 1e308
		if *minStr != "" {
			if lo, err = strconv.ParseFloat(*minStr, 64); err != nil {
				return fmt.Errorf("--min: %w", err)
			}
		}
		if *maxStr != "" {
			if hi, err = strconv.ParseFloat(*maxStr, 64); err != nil {
				return fmt.Errorf("--max: %w", err)
			}
		}
		matches, err = cat.QueryRange(ctx, *keyword, lo, hi)
	} else {
		matches, err = cat.Query(ctx, *keyword, *value)
	}
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, matches)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tHDU\tKIND\tKEYWORD\tVALUE")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", m.Path, m.HDU, m.Kind, m.Keyword, m.Value)
	}
	return tw.Flush()
}

func collectFITS(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(p)) {
			case ".fits", ".fit", ".fts":
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func selectHDUs(n, want int) ([]int, error) {
	if want < 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if want >= n {
		return nil, fmt.Errorf("HDU %d not found, file has %d", want, n)
	}
	return []int{want}, nil
}

func printSkipped(out io.Writer, skipped []fits.KeyError) {
	for _, ke := range skipped {
		fmt.Fprintf(out, "skipped %s: %v\n", ke.Keyword, ke.Err)
	}
}

func axesLabel(axes []int) string {
	if len(axes) == 0 {
		return "-"
	}
	parts := make([]string, len(axes))
	for i, n := range axes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "x")
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
