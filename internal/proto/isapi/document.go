package isapi

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrMalformedDocument    = errors.New("malformed xml document")
	ErrPathNotFound         = errors.New("path not found in document")
	ErrInsertTargetNotFound = errors.New("insertion target not found")
)

// Document is one full settings resource as fetched from the camera. It
// keeps two synchronized views: a parsed tree for path lookups and the
// literal text the camera sent. Writes go back as the literal text with only
// the targeted value spans changed: serializing the tree drops the repeated
// xmlns declarations on child elements that the camera insists on, and the
// PUT comes back with deviceError.
//
// A Document is owned by a single edit batch and is not safe for concurrent
// use.
type Document struct {
	raw  string
	tree *etree.Document
}

func ParseDocument(b []byte) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if tree.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedDocument)
	}
	return &Document{raw: string(b), tree: tree}, nil
}

// Bytes returns the literal serialization, suitable for submitting back to
// the camera.
func (d *Document) Bytes() []byte { return []byte(d.raw) }

// LeafText returns the text of the element at a slash-separated path.
// Namespace prefixes on the document's tags are ignored.
func (d *Document) LeafText(path string) (string, bool) {
	el := findByPath(d.tree.Root(), path)
	if el == nil {
		return "", false
	}
	return el.Text(), true
}

// SetLeafText replaces the text of the element at path in both views. The
// raw view is edited in place: only the old value's span changes, scoped to
// the immediate parent block so that same-named leaves under other parents
// (BLC/enabled vs HLC/enabled) are never touched.
func (d *Document) SetLeafText(path, value string) error {
	el := findByPath(d.tree.Root(), path)
	if el == nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	raw, ok := replaceScoped(d.raw, path, el.Text(), value)
	if !ok {
		return fmt.Errorf("%w: %s not present in raw serialization", ErrPathNotFound, path)
	}
	d.raw = raw
	el.SetText(value)
	return nil
}

// InsertLeafAfter adds a new leaf element immediately after the sibling at
// afterPath, inside the same parent block. Used when a legitimately absent
// element (a mode whose feature is disabled) must be brought back. On
// failure the document is unmodified.
func (d *Document) InsertLeafAfter(afterPath, newTag, value string) error {
	parts := strings.Split(afterPath, "/")
	if len(parts) < 2 {
		return fmt.Errorf("%w: %s has no parent", ErrInsertTargetNotFound, afterPath)
	}
	parentTag := parts[len(parts)-2]
	afterTag := parts[len(parts)-1]

	start, end, ok := parentBlock(d.raw, parentTag)
	if !ok {
		return fmt.Errorf("%w: no <%s> block", ErrInsertTargetNotFound, parentTag)
	}
	afterClose := "</" + afterTag + ">"
	pos := strings.Index(d.raw[start:end], afterClose)
	if pos < 0 {
		return fmt.Errorf("%w: no %s inside <%s>", ErrInsertTargetNotFound, afterClose, parentTag)
	}
	abs := start + pos + len(afterClose)
	d.raw = d.raw[:abs] + "\n<" + newTag + ">" + value + "</" + newTag + ">" + d.raw[abs:]

	parentEl := findByPath(d.tree.Root(), strings.Join(parts[:len(parts)-1], "/"))
	afterEl := findByPath(d.tree.Root(), afterPath)
	if parentEl != nil && afterEl != nil {
		newEl := etree.NewElement(newTag)
		newEl.SetText(value)
		idx := -1
		for i, tok := range parentEl.Child {
			if tok == etree.Token(afterEl) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			parentEl.InsertChildAt(idx+1, newEl)
		} else {
			parentEl.AddChild(newEl)
		}
	}
	return nil
}

// replaceScoped replaces one element's text in the raw serialization. The
// leaf match is bounded to its immediate parent's block first; an unscoped
// first match remains as a logged fallback for documents whose shape
// diverged from the addressed path.
func replaceScoped(raw, path, old, value string) (string, bool) {
	parts := strings.Split(path, "/")
	leaf := parts[len(parts)-1]
	leafRe := regexp.MustCompile(
		`(<` + regexp.QuoteMeta(leaf) + `(?:\s[^>]*)?>)` +
			regexp.QuoteMeta(old) +
			`(</` + regexp.QuoteMeta(leaf) + `>)`)

	if len(parts) >= 2 {
		if start, end, ok := parentBlock(raw, parts[len(parts)-2]); ok {
			if out, ok := replaceFirst(leafRe, raw[start:end], value); ok {
				return raw[:start] + out + raw[end:], true
			}
		}
	}
	out, ok := replaceFirst(leafRe, raw, value)
	if ok && len(parts) >= 2 {
		slog.Warn("leaf replace fell back to unscoped first match", "path", path)
	}
	return out, ok
}

// parentBlock locates the bounding span of the first <tag ...>…</tag> block.
func parentBlock(raw, tag string) (start, end int, ok bool) {
	openRe := regexp.MustCompile(`<` + regexp.QuoteMeta(tag) + `[\s>]`)
	loc := openRe.FindStringIndex(raw)
	if loc == nil {
		return 0, 0, false
	}
	closeTag := "</" + tag + ">"
	closePos := strings.Index(raw[loc[0]:], closeTag)
	if closePos < 0 {
		return 0, 0, false
	}
	return loc[0], loc[0] + closePos + len(closeTag), true
}

// replaceFirst applies a two-group (open tag, close tag) pattern once,
// keeping both tags and swapping the text between them.
func replaceFirst(re *regexp.Regexp, s, value string) (string, bool) {
	idx := re.FindStringSubmatchIndex(s)
	if idx == nil {
		return s, false
	}
	return s[:idx[3]] + value + s[idx[4]:], true
}

// findByPath walks slash-separated segments from root, comparing local tag
// names so namespace prefixes don't matter.
func findByPath(root *etree.Element, path string) *etree.Element {
	if root == nil || path == "" {
		return nil
	}
	cur := root
	for _, part := range strings.Split(path, "/") {
		var next *etree.Element
		for _, child := range cur.ChildElements() {
			if child.Tag == part {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}
