package sdfat

import (
	"strings"

	"github.com/sabt-braille/sdfat/checkpoint"
	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
)

// Characters which are never allowed in a short name.
const invalidNameChars = "\"*+,./:;<=>?[\\]| "

// ShortName converts a name like "md11int.mp3" into the space padded,
// upper case 11 byte form "MD11INT MP3" stored in directory entries.
// Names are encoded with code page 437 like DOS did.
func ShortName(name string) ([11]byte, error) {
	var result [11]byte

	if name == "" || name == "." || name == ".." {
		return result, checkpoint.New(ErrInvalidName, "%q", name)
	}

	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}

	upper := cases.Upper(language.Und)
	encoder := charmap.CodePage437.NewEncoder()
	oemBase, err := encoder.String(upper.String(base))
	if err != nil {
		return result, checkpoint.Wrap(err, checkpoint.New(ErrInvalidName, "%q", name))
	}
	oemExt, err := encoder.String(upper.String(ext))
	if err != nil {
		return result, checkpoint.Wrap(err, checkpoint.New(ErrInvalidName, "%q", name))
	}

	if len(oemBase) == 0 || len(oemBase) > 8 || len(oemExt) > 3 {
		return result, checkpoint.New(ErrInvalidName, "%q does not fit 8.3", name)
	}

	for _, part := range []string{oemBase, oemExt} {
		for i := 0; i < len(part); i++ {
			if part[i] < 0x20 || strings.IndexByte(invalidNameChars, part[i]) >= 0 {
				return result, checkpoint.New(ErrInvalidName, "%q contains %q", name, part[i])
			}
		}
	}

	for i := range result {
		result[i] = ' '
	}
	copy(result[:8], oemBase)
	copy(result[8:], oemExt)

	if result[0] == entryDeleted {
		result[0] = entryKanji
	}

	return result, nil
}

// displayName turns a stored short name back into "NAME.EXT".
func displayName(raw [11]byte) string {
	if raw[0] == entryKanji {
		raw[0] = entryDeleted
	}

	decoder := charmap.CodePage437.NewDecoder()
	base, _ := decoder.String(strings.TrimRight(string(raw[:8]), " "))
	ext, _ := decoder.String(strings.TrimRight(string(raw[8:]), " "))

	if ext == "" {
		return base
	}
	return base + "." + ext
}

// sameName compares two stored names ignoring ASCII case.
func sameName(a, b [11]byte) bool {
	for i := range a {
		if foldASCII(a[i]) != foldASCII(b[i]) {
			return false
		}
	}
	return true
}

func foldASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
