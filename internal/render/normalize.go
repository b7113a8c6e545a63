package render

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// normalizePDF rewrites a serialized document into a canonical form:
// dictionary keys sorted, objects renumbered in reference-discovery order
// from the trailer, and the cross-reference table rebuilt. The importer
// emits copied objects while ranging over Go maps, so two renders of the
// same inputs otherwise differ in object ids and dictionary key order even
// though they describe the same document.
func normalizePDF(in []byte) ([]byte, error) {
	doc, err := parsePDF(in)
	if err != nil {
		return nil, err
	}
	return doc.serialize()
}

type pdfValue interface{}

// pdfRaw holds any token kept verbatim: names, numbers, literal and hex
// strings, booleans, null.
type pdfRaw string

type pdfRef struct {
	num int
}

type pdfArray []pdfValue

type pdfDict map[string]pdfValue

type pdfObject struct {
	val       pdfValue
	stream    []byte
	hasStream bool
}

type pdfDoc struct {
	header  []byte
	objects map[int]*pdfObject
	trailer pdfDict
}

func parsePDF(in []byte) (*pdfDoc, error) {
	nl := bytes.IndexByte(in, '\n')
	if nl < 0 || !bytes.HasPrefix(in, []byte("%PDF")) {
		return nil, fmt.Errorf("missing pdf header")
	}

	doc := &pdfDoc{
		header:  append([]byte(nil), in[:nl+1]...),
		objects: make(map[int]*pdfObject),
	}
	p := &pdfParser{data: in, pos: nl + 1}

	for {
		p.skipWS()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("pdf ends before trailer")
		}
		if p.peekKeyword("xref") {
			break
		}
		id, err := p.parseObjectHeader()
		if err != nil {
			return nil, err
		}
		obj, err := p.parseObjectBody()
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", id, err)
		}
		doc.objects[id] = obj
	}

	// The existing table is rebuilt from scratch, so just skip to the
	// trailer dictionary.
	ti := bytes.Index(p.data[p.pos:], []byte("trailer"))
	if ti < 0 {
		return nil, fmt.Errorf("missing trailer")
	}
	p.pos += ti + len("trailer")
	v, err := p.parseValue()
	if err != nil {
		return nil, fmt.Errorf("trailer: %w", err)
	}
	trailer, ok := v.(pdfDict)
	if !ok {
		return nil, fmt.Errorf("trailer is not a dictionary")
	}
	doc.trailer = trailer
	return doc, nil
}

func (d *pdfDoc) serialize() ([]byte, error) {
	// Renumber objects in the order references are first reached from the
	// trailer, visiting dictionary entries in sorted-key order. Identical
	// object graphs then serialize identically regardless of the ids the
	// generator happened to assign.
	var order []int
	newID := make(map[int]int)
	var visit func(v pdfValue)
	visit = func(v pdfValue) {
		switch t := v.(type) {
		case pdfRef:
			if _, seen := newID[t.num]; seen {
				return
			}
			newID[t.num] = len(order) + 1
			order = append(order, t.num)
			if obj, ok := d.objects[t.num]; ok {
				visit(obj.val)
			}
		case pdfDict:
			for _, k := range sortedDictKeys(t) {
				visit(t[k])
			}
		case pdfArray:
			for _, e := range t {
				visit(e)
			}
		}
	}
	visit(d.trailer)

	var unreachable []int
	for id := range d.objects {
		if _, seen := newID[id]; !seen {
			unreachable = append(unreachable, id)
		}
	}
	sort.Ints(unreachable)
	for _, id := range unreachable {
		newID[id] = len(order) + 1
		order = append(order, id)
	}

	var buf bytes.Buffer
	buf.Write(d.header)
	offsets := make([]int, len(order)+1)
	for i, old := range order {
		obj, ok := d.objects[old]
		if !ok {
			return nil, fmt.Errorf("reference to missing object %d", old)
		}
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		if err := writePDFValue(&buf, obj.val, newID); err != nil {
			return nil, err
		}
		if obj.hasStream {
			buf.WriteString("\nstream\n")
			buf.Write(obj.stream)
			buf.WriteString("\nendstream")
		}
		buf.WriteString("\nendobj\n")
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(order)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(order); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}

	trailer := make(pdfDict, len(d.trailer))
	for k, v := range d.trailer {
		trailer[k] = v
	}
	trailer["/Size"] = pdfRaw(strconv.Itoa(len(order) + 1))

	buf.WriteString("trailer\n")
	if err := writePDFValue(&buf, trailer, newID); err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefPos)
	return buf.Bytes(), nil
}

func writePDFValue(buf *bytes.Buffer, v pdfValue, newID map[int]int) error {
	switch t := v.(type) {
	case pdfRef:
		id, ok := newID[t.num]
		if !ok {
			return fmt.Errorf("reference to missing object %d", t.num)
		}
		fmt.Fprintf(buf, "%d 0 R", id)
	case pdfDict:
		buf.WriteString("<<")
		for i, k := range sortedDictKeys(t) {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(k)
			buf.WriteByte(' ')
			if err := writePDFValue(buf, t[k], newID); err != nil {
				return err
			}
		}
		buf.WriteString(">>")
	case pdfArray:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := writePDFValue(buf, e, newID); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case pdfRaw:
		buf.WriteString(string(t))
	default:
		return fmt.Errorf("unsupported pdf value %T", v)
	}
	return nil
}

func sortedDictKeys(d pdfDict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type pdfParser struct {
	data []byte
	pos  int
}

func isPDFWhitespace(c byte) bool {
	return c == 0 || c == '\t' || c == '\n' || c == '\f' || c == '\r' || c == ' '
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (p *pdfParser) skipWS() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isPDFWhitespace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		return
	}
}

// readRegular consumes a run of non-delimiter, non-whitespace bytes.
func (p *pdfParser) readRegular() string {
	start := p.pos
	for p.pos < len(p.data) && !isPDFWhitespace(p.data[p.pos]) && !isPDFDelimiter(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

func (p *pdfParser) peekKeyword(kw string) bool {
	if !bytes.HasPrefix(p.data[p.pos:], []byte(kw)) {
		return false
	}
	next := p.pos + len(kw)
	return next >= len(p.data) || isPDFWhitespace(p.data[next]) || isPDFDelimiter(p.data[next])
}

func (p *pdfParser) consumeKeyword(kw string) bool {
	p.skipWS()
	if !p.peekKeyword(kw) {
		return false
	}
	p.pos += len(kw)
	return true
}

func (p *pdfParser) parseObjectHeader() (int, error) {
	p.skipWS()
	id, err := strconv.Atoi(p.readRegular())
	if err != nil {
		return 0, fmt.Errorf("malformed object number at byte %d", p.pos)
	}
	p.skipWS()
	if _, err := strconv.Atoi(p.readRegular()); err != nil {
		return 0, fmt.Errorf("malformed generation number at byte %d", p.pos)
	}
	if !p.consumeKeyword("obj") {
		return 0, fmt.Errorf("missing obj keyword at byte %d", p.pos)
	}
	return id, nil
}

func (p *pdfParser) parseObjectBody() (*pdfObject, error) {
	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	obj := &pdfObject{val: val}

	p.skipWS()
	if p.peekKeyword("stream") {
		p.pos += len("stream")
		if p.pos < len(p.data) && p.data[p.pos] == '\r' {
			p.pos++
		}
		if p.pos < len(p.data) && p.data[p.pos] == '\n' {
			p.pos++
		}
		if err := p.readStream(obj, val); err != nil {
			return nil, err
		}
	}

	if !p.consumeKeyword("endobj") {
		return nil, fmt.Errorf("missing endobj at byte %d", p.pos)
	}
	return obj, nil
}

// readStream slices the stream body. A direct /Length is trusted when the
// bytes it spans are followed by endstream; otherwise the terminator is
// located by scanning.
func (p *pdfParser) readStream(obj *pdfObject, val pdfValue) error {
	obj.hasStream = true

	if d, ok := val.(pdfDict); ok {
		if raw, ok := d["/Length"].(pdfRaw); ok {
			if n, err := strconv.Atoi(string(raw)); err == nil && n >= 0 && p.pos+n <= len(p.data) {
				end := p.pos + n
				after := end
				for after < len(p.data) && isPDFWhitespace(p.data[after]) {
					after++
				}
				if bytes.HasPrefix(p.data[after:], []byte("endstream")) {
					obj.stream = append([]byte(nil), p.data[p.pos:end]...)
					p.pos = after + len("endstream")
					return nil
				}
			}
		}
	}

	idx := bytes.Index(p.data[p.pos:], []byte("endstream"))
	if idx < 0 {
		return fmt.Errorf("unterminated stream at byte %d", p.pos)
	}
	raw := p.data[p.pos : p.pos+idx]
	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		raw = raw[:n-1]
		if n := len(raw); n > 0 && raw[n-1] == '\r' {
			raw = raw[:n-1]
		}
	}
	obj.stream = append([]byte(nil), raw...)
	p.pos += idx + len("endstream")
	return nil
}

func (p *pdfParser) parseValue() (pdfValue, error) {
	p.skipWS()
	if p.pos >= len(p.data) {
		return nil, fmt.Errorf("unexpected end of pdf")
	}
	c := p.data[p.pos]
	switch {
	case c == '<' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '<':
		return p.parseDict()
	case c == '<':
		return p.parseHexString()
	case c == '[':
		return p.parseArray()
	case c == '(':
		return p.parseLiteralString()
	case c == '/':
		p.pos++
		return pdfRaw("/" + p.readRegular()), nil
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumberOrRef(), nil
	default:
		kw := p.readRegular()
		if kw == "" {
			return nil, fmt.Errorf("unexpected byte %q at %d", c, p.pos)
		}
		return pdfRaw(kw), nil
	}
}

func (p *pdfParser) parseDict() (pdfValue, error) {
	p.pos += 2
	d := make(pdfDict)
	for {
		p.skipWS()
		if p.pos+1 < len(p.data) && p.data[p.pos] == '>' && p.data[p.pos+1] == '>' {
			p.pos += 2
			return d, nil
		}
		if p.pos >= len(p.data) || p.data[p.pos] != '/' {
			return nil, fmt.Errorf("malformed dictionary at byte %d", p.pos)
		}
		p.pos++
		key := "/" + p.readRegular()
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		d[key] = val
	}
}

func (p *pdfParser) parseArray() (pdfValue, error) {
	p.pos++
	var a pdfArray
	for {
		p.skipWS()
		if p.pos >= len(p.data) {
			return nil, fmt.Errorf("unterminated array")
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return a, nil
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		a = append(a, v)
	}
}

func (p *pdfParser) parseLiteralString() (pdfValue, error) {
	start := p.pos
	depth := 0
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case '\\':
			p.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				p.pos++
				return pdfRaw(p.data[start:p.pos]), nil
			}
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated string at byte %d", start)
}

func (p *pdfParser) parseHexString() (pdfValue, error) {
	start := p.pos
	for p.pos < len(p.data) {
		if p.data[p.pos] == '>' {
			p.pos++
			return pdfRaw(p.data[start:p.pos]), nil
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated hex string at byte %d", start)
}

// parseNumberOrRef reads a number, upgrading "N G R" triples to indirect
// references.
func (p *pdfParser) parseNumberOrRef() pdfValue {
	first := p.readRegular()
	if n, err := strconv.Atoi(first); err == nil && n >= 0 {
		save := p.pos
		p.skipWS()
		if _, err := strconv.Atoi(p.readRegular()); err == nil {
			p.skipWS()
			if p.readRegular() == "R" {
				return pdfRef{num: n}
			}
		}
		p.pos = save
	}
	return pdfRaw(first)
}
