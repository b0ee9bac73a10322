package bookmark

import (
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ParsedFolder is a folder node in a Netscape bookmark export.
type ParsedFolder struct {
	Name    string
	Folders []*ParsedFolder
	Links   []ParsedLink
}

// ParsedLink is a single <A HREF> entry from a Netscape bookmark export.
type ParsedLink struct {
	Title   string
	Href    string
	AddDate string // raw ADD_DATE attribute, unix seconds
	Icon    string
}

// ParseNetscape parses the "Netscape Bookmark File Format" exported by
// Chrome, Firefox and friends. The format is nominally HTML but omits most
// closing tags, so we walk the token stream with an explicit folder stack
// instead of relying on a parsed tree.
func ParseNetscape(r io.Reader) (*ParsedFolder, error) {
	root := &ParsedFolder{}
	stack := []*ParsedFolder{root}
	current := func() *ParsedFolder { return stack[len(stack)-1] }

	var pending *ParsedFolder

	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return root, nil
			}
			return nil, z.Err()

		case html.StartTagToken:
			tok := z.Token()
			switch tok.Data {
			case "h3":
				folder := &ParsedFolder{Name: strings.TrimSpace(textUntilClose(z, "h3"))}
				current().Folders = append(current().Folders, folder)
				pending = folder
			case "dl":
				// A <DL> directly after an <H3> holds that folder's children.
				if pending != nil {
					stack = append(stack, pending)
					pending = nil
				}
			case "a":
				link := ParsedLink{}
				for _, attr := range tok.Attr {
					switch attr.Key {
					case "href":
						link.Href = strings.TrimSpace(attr.Val)
					case "add_date":
						link.AddDate = attr.Val
					case "icon":
						link.Icon = attr.Val
					}
				}
				link.Title = strings.TrimSpace(textUntilClose(z, "a"))
				if link.Href != "" {
					current().Links = append(current().Links, link)
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "dl" && len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// textUntilClose collects text tokens until the matching end tag (or EOF,
// since exports routinely drop closing tags mid-line).
func textUntilClose(z *html.Tokenizer, tag string) string {
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.TextToken:
			sb.Write(z.Text())
		case html.EndTagToken:
			if tok := z.Token(); tok.Data == tag {
				return sb.String()
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.ErrorToken:
			return sb.String()
		}
	}
}

// FlattenNetscape walks a parsed bookmark tree and produces one
// IngestBookmark per link, carrying the slash-joined folder path. Links at
// the root get the default folder.
func FlattenNetscape(root *ParsedFolder) []IngestBookmark {
	var out []IngestBookmark
	var walk func(f *ParsedFolder, prefix []string)
	walk = func(f *ParsedFolder, prefix []string) {
		folderPath := strings.Join(prefix, "/")
		for _, link := range f.Links {
			b := IngestBookmark{
				URL:        link.Href,
				Title:      link.Title,
				FolderPath: folderPath,
				FaviconURL: link.Icon,
				Source:     "upload",
			}
			if b.FolderPath == "" {
				b.FolderPath = DefaultFolderPath
			}
			if secs, err := strconv.ParseInt(link.AddDate, 10, 64); err == nil && secs > 0 {
				b.DateAdded = time.Unix(secs, 0).UTC().Format(time.RFC3339)
			}
			out = append(out, b)
		}
		for _, child := range f.Folders {
			childPrefix := append(append([]string(nil), prefix...), child.Name)
			walk(child, childPrefix)
		}
	}
	walk(root, nil)
	return out
}
