package l1cloud

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment"
)

// maxHeaderLines bounds header parsing so a corrupt file cannot make the
// reader scan the whole payload looking for DATA.
const maxHeaderLines = 64

// maxPrealloc caps the points allocated up front from the header; larger
// clouds grow as records are read so a corrupt POINTS value cannot force a
// huge allocation.
const maxPrealloc = 1 << 20

// maxFieldCount bounds COUNT per field.
const maxFieldCount = 1 << 12

// pcdField describes one FIELDS entry of a PCD header.
type pcdField struct {
	name  string
	size  int
	typ   byte // 'F', 'U' or 'I'
	count int
}

type pcdHeader struct {
	fields []pcdField
	width  int
	height int
	points int
	data   string
}

// LoadPCD reads a PCD file through fsys. Any failure, including a malformed
// header, is reported as segment.ErrIO.
func LoadPCD(fsys fsutil.FileSystem, path string) (*Cloud, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, segment.IOError("open", path, err)
	}
	defer f.Close()

	c, err := ReadPCD(f)
	if err != nil {
		return nil, segment.IOError("read", path, err)
	}
	return c, nil
}

// SavePCD writes c to path in ASCII PCD form.
func SavePCD(fsys fsutil.FileSystem, path string, c *Cloud) error {
	f, err := fsys.Create(path)
	if err != nil {
		return segment.IOError("create", path, err)
	}
	if err := WritePCD(f, c); err != nil {
		f.Close()
		return segment.IOError("write", path, err)
	}
	if err := f.Close(); err != nil {
		return segment.IOError("close", path, err)
	}
	return nil
}

// ReadPCD decodes an ascii or binary PCD stream. Recognised fields are x, y,
// z, rgb/rgba, normal_x/normal_y/normal_z, curvature and label; any other
// field is skipped.
func ReadPCD(r io.Reader) (*Cloud, error) {
	br := bufio.NewReader(r)
	hdr, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(hdr.fields))
	for i, f := range hdr.fields {
		idx[f.name] = i
	}
	for _, req := range []string{"x", "y", "z"} {
		if _, ok := idx[req]; !ok {
			return nil, fmt.Errorf("pcd: missing field %q", req)
		}
	}

	c := &Cloud{
		Points: make([]Point, 0, min(hdr.points, maxPrealloc)),
		Width:  hdr.width,
		Height: hdr.height,
	}
	_, hasRGB := idx["rgb"]
	_, hasRGBA := idx["rgba"]
	_, hasNX := idx["normal_x"]
	_, hasLabel := idx["label"]
	c.HasColor = hasRGB || hasRGBA
	c.HasNormals = hasNX
	c.HasLabels = hasLabel

	switch hdr.data {
	case "ascii":
		err = readASCII(br, hdr, c)
	case "binary":
		err = readBinary(br, hdr, c)
	default:
		err = fmt.Errorf("pcd: unsupported DATA encoding %q", hdr.data)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func readHeader(br *bufio.Reader) (*pcdHeader, error) {
	hdr := &pcdHeader{height: 1}
	var sizes, types, counts []string

	for i := 0; i < maxHeaderLines; i++ {
		line, rerr := br.ReadString('\n')
		if rerr != nil && !(errors.Is(rerr, io.EOF) && line != "") {
			return nil, fmt.Errorf("pcd: header: %w", rerr)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, vals := strings.ToUpper(parts[0]), parts[1:]

		var err error
		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			for _, v := range vals {
				hdr.fields = append(hdr.fields, pcdField{name: v, size: 4, typ: 'F', count: 1})
			}
		case "SIZE":
			sizes = vals
		case "TYPE":
			types = vals
		case "COUNT":
			counts = vals
		case "WIDTH":
			hdr.width, err = parseHeaderInt(key, vals)
		case "HEIGHT":
			hdr.height, err = parseHeaderInt(key, vals)
		case "POINTS":
			hdr.points, err = parseHeaderInt(key, vals)
		case "DATA":
			if len(vals) != 1 {
				return nil, fmt.Errorf("pcd: malformed DATA line %q", line)
			}
			hdr.data = strings.ToLower(vals[0])
			if err := hdr.apply(sizes, types, counts); err != nil {
				return nil, err
			}
			return hdr, nil
		default:
			return nil, fmt.Errorf("pcd: unknown header entry %q", parts[0])
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("pcd: no DATA line within %d header lines", maxHeaderLines)
}

func parseHeaderInt(key string, vals []string) (int, error) {
	if len(vals) != 1 {
		return 0, fmt.Errorf("pcd: malformed %s entry", key)
	}
	v, err := strconv.Atoi(vals[0])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("pcd: invalid %s %q", key, vals[0])
	}
	return v, nil
}

// apply merges the SIZE/TYPE/COUNT columns into the field list and checks
// the point counts for consistency.
func (h *pcdHeader) apply(sizes, types, counts []string) error {
	n := len(h.fields)
	if n == 0 {
		return fmt.Errorf("pcd: FIELDS missing")
	}
	if (sizes != nil && len(sizes) != n) || (types != nil && len(types) != n) || (counts != nil && len(counts) != n) {
		return fmt.Errorf("pcd: SIZE/TYPE/COUNT do not match %d fields", n)
	}
	for i := range h.fields {
		f := &h.fields[i]
		if sizes != nil {
			v, err := strconv.Atoi(sizes[i])
			if err != nil || (v != 1 && v != 2 && v != 4 && v != 8) {
				return fmt.Errorf("pcd: invalid SIZE %q for field %s", sizes[i], f.name)
			}
			f.size = v
		}
		if types != nil {
			t := strings.ToUpper(types[i])
			if t != "F" && t != "U" && t != "I" {
				return fmt.Errorf("pcd: invalid TYPE %q for field %s", types[i], f.name)
			}
			f.typ = t[0]
		}
		if counts != nil {
			v, err := strconv.Atoi(counts[i])
			if err != nil || v < 1 || v > maxFieldCount {
				return fmt.Errorf("pcd: invalid COUNT %q for field %s", counts[i], f.name)
			}
			f.count = v
		}
	}
	if h.height > 0 && h.width > math.MaxInt/h.height {
		return fmt.Errorf("pcd: WIDTH*HEIGHT (%d*%d) overflows", h.width, h.height)
	}
	if h.points == 0 {
		h.points = h.width * h.height
	}
	if h.width*h.height != h.points {
		return fmt.Errorf("pcd: WIDTH*HEIGHT (%d*%d) != POINTS (%d)", h.width, h.height, h.points)
	}
	return nil
}

// assign stores the first element of a decoded field on p.
func assign(p *Point, f pcdField, v float64, raw uint64) {
	switch f.name {
	case "x":
		p.Pos.X = v
	case "y":
		p.Pos.Y = v
	case "z":
		p.Pos.Z = v
	case "rgb", "rgba":
		if f.typ == 'F' {
			// Packed into the bits of a float32.
			p.SetPackedRGB(math.Float32bits(float32(v)))
		} else {
			p.SetPackedRGB(uint32(raw))
		}
	case "normal_x":
		p.Normal.X = v
	case "normal_y":
		p.Normal.Y = v
	case "normal_z":
		p.Normal.Z = v
	case "curvature":
		p.Curvature = v
	case "label":
		p.Label = uint32(raw)
	}
}

func readASCII(br *bufio.Reader, hdr *pcdHeader, c *Cloud) error {
	want := 0
	for _, f := range hdr.fields {
		want += f.count
	}
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	i := 0
	for i < hdr.points && sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tok := strings.Fields(line)
		if len(tok) != want {
			return fmt.Errorf("pcd: point %d has %d values, want %d", i, len(tok), want)
		}
		var p Point
		k := 0
		for _, f := range hdr.fields {
			v, raw, err := parseASCIIValue(tok[k], f)
			if err != nil {
				return fmt.Errorf("pcd: point %d field %s: %w", i, f.name, err)
			}
			assign(&p, f, v, raw)
			k += f.count
		}
		c.Points = append(c.Points, p)
		i++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("pcd: %w", err)
	}
	if i != hdr.points {
		return fmt.Errorf("pcd: expected %d points, got %d", hdr.points, i)
	}
	return nil
}

func parseASCIIValue(s string, f pcdField) (float64, uint64, error) {
	switch f.typ {
	case 'U':
		u, err := strconv.ParseUint(s, 10, 64)
		return float64(u), u, err
	case 'I':
		n, err := strconv.ParseInt(s, 10, 64)
		return float64(n), uint64(n), err
	default:
		if strings.EqualFold(s, "nan") {
			return math.NaN(), 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		return v, uint64(int64(v)), err
	}
}

func readBinary(br *bufio.Reader, hdr *pcdHeader, c *Cloud) error {
	stride := 0
	for _, f := range hdr.fields {
		stride += f.size * f.count
	}
	rec := make([]byte, stride)
	for i := 0; i < hdr.points; i++ {
		if _, err := io.ReadFull(br, rec); err != nil {
			return fmt.Errorf("pcd: point %d: %w", i, err)
		}
		var p Point
		off := 0
		for _, f := range hdr.fields {
			v, raw := decodeBinaryValue(rec[off:off+f.size], f)
			assign(&p, f, v, raw)
			off += f.size * f.count
		}
		c.Points = append(c.Points, p)
	}
	return nil
}

func decodeBinaryValue(b []byte, f pcdField) (float64, uint64) {
	le := binary.LittleEndian
	var raw uint64
	switch f.size {
	case 1:
		raw = uint64(b[0])
	case 2:
		raw = uint64(le.Uint16(b))
	case 4:
		raw = uint64(le.Uint32(b))
	case 8:
		raw = le.Uint64(b)
	}
	switch f.typ {
	case 'F':
		if f.size == 8 {
			return math.Float64frombits(raw), raw
		}
		return float64(math.Float32frombits(uint32(raw))), raw
	case 'I':
		shift := uint(64 - 8*f.size)
		n := int64(raw<<shift) >> shift
		return float64(n), uint64(n)
	default:
		return float64(raw), raw
	}
}

// WritePCD encodes c as an ascii PCD v0.7 stream. Positions are written as
// doubles; colour is written as packed rgba so other tools read it back
// without float reinterpretation.
func WritePCD(w io.Writer, c *Cloud) error {
	fields := []pcdField{{"x", 8, 'F', 1}, {"y", 8, 'F', 1}, {"z", 8, 'F', 1}}
	if c.HasColor {
		fields = append(fields, pcdField{"rgba", 4, 'U', 1})
	}
	if c.HasNormals {
		fields = append(fields,
			pcdField{"normal_x", 4, 'F', 1},
			pcdField{"normal_y", 4, 'F', 1},
			pcdField{"normal_z", 4, 'F', 1},
			pcdField{"curvature", 4, 'F', 1})
	}
	if c.HasLabels {
		fields = append(fields, pcdField{"label", 4, 'U', 1})
	}

	width, height := c.Width, c.Height
	if width*height != len(c.Points) {
		width, height = len(c.Points), 1
	}

	bw := bufio.NewWriter(w)
	names := make([]string, len(fields))
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
		sizes[i] = strconv.Itoa(f.size)
		types[i] = string(f.typ)
		counts[i] = "1"
	}
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(bw, "VERSION 0.7\n")
	fmt.Fprintf(bw, "FIELDS %s\n", strings.Join(names, " "))
	fmt.Fprintf(bw, "SIZE %s\n", strings.Join(sizes, " "))
	fmt.Fprintf(bw, "TYPE %s\n", strings.Join(types, " "))
	fmt.Fprintf(bw, "COUNT %s\n", strings.Join(counts, " "))
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT %d\n", width, height)
	fmt.Fprintf(bw, "VIEWPOINT 0 0 0 1 0 0 0\n")
	fmt.Fprintf(bw, "POINTS %d\nDATA ascii\n", len(c.Points))

	var sb strings.Builder
	for _, p := range c.Points {
		sb.Reset()
		sb.WriteString(formatFloat(p.Pos.X, 64))
		sb.WriteByte(' ')
		sb.WriteString(formatFloat(p.Pos.Y, 64))
		sb.WriteByte(' ')
		sb.WriteString(formatFloat(p.Pos.Z, 64))
		if c.HasColor {
			sb.WriteByte(' ')
			sb.WriteString(strconv.FormatUint(uint64(p.PackedRGB()), 10))
		}
		if c.HasNormals {
			for _, v := range []float64{p.Normal.X, p.Normal.Y, p.Normal.Z, p.Curvature} {
				sb.WriteByte(' ')
				sb.WriteString(formatFloat(v, 32))
			}
		}
		if c.HasLabels {
			sb.WriteByte(' ')
			sb.WriteString(strconv.FormatUint(uint64(p.Label), 10))
		}
		sb.WriteByte('\n')
		if _, err := bw.WriteString(sb.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(v float64, bits int) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, bits)
}
