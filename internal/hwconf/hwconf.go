// Package hwconf models the tst_hwconf document: a JSON file describing
// per-device hardware overrides for a test run, consumed entirely through
// internal/jsonreader's streaming cursor rather than a DOM, per
// include/tst_hwconf.h and its reconfigure/hwconfs shape.
package hwconf

import (
	"github.com/ltp/testlib/internal/jsonreader"
	"github.com/ltp/testlib/internal/result"
)

// Entry is one hwconf document entry: a required UID plus the other
// string-valued fields the document carries for it, decoded into Fields as
// the entry is parsed. Fields whose values are not strings are skipped and
// not kept.
type Entry struct {
	UID    string
	Fields map[string]string
}

// Document is a parsed hwconf file: an optional reconfigure command and
// the ordered list of device entries.
type Document struct {
	Reconfigure string
	Entries     []Entry
}

// Parse reads a complete hwconf JSON document of the shape
// {"reconfigure": "...", "hwconfs": [{"uid": "...", ...}, ...]}.
// The "reconfigure" key is optional; "hwconfs" must be present.
func Parse(data []byte) *Document {
	b := jsonreader.Load(data)
	doc := &Document{}

	cur, key, ok := b.ObjFirst()
	if !ok {
		result.Brk("hwconf: empty document, expected at least \"hwconfs\"")
	}
	sawHwconfs := false
	for ok {
		switch key {
		case "reconfigure":
			doc.Reconfigure = b.ReadString()
		case "hwconfs":
			doc.Entries = parseEntries(b)
			sawHwconfs = true
		default:
			b.SkipValue()
		}
		key, ok = cur.ObjNext()
	}
	if !sawHwconfs {
		result.Brk("hwconf: document missing required \"hwconfs\" array")
	}
	return doc
}

func parseEntries(b *jsonreader.Buffer) []Entry {
	var entries []Entry
	arr, ok := b.ArrFirst()
	for ok {
		entries = append(entries, parseEntry(b))
		ok = arr.ArrNext()
	}
	return entries
}

func parseEntry(b *jsonreader.Buffer) Entry {
	e := Entry{Fields: make(map[string]string)}
	cur, key, ok := b.ObjFirst()
	for ok {
		switch key {
		case "uid":
			e.UID = b.ReadString()
		default:
			// Fields are read as strings for simplicity; a consumer
			// needing a entry's numeric/nested fields re-parses the raw
			// value itself via NextType before calling ReadString here,
			// since jsonreader has no DOM to fall back to.
			if b.NextType() == jsonreader.TypeString {
				e.Fields[key] = b.ReadString()
			} else {
				b.SkipValue()
			}
		}
		key, ok = cur.ObjNext()
	}
	if e.UID == "" {
		result.Brk("hwconf: entry missing required \"uid\" field")
	}
	return e
}
