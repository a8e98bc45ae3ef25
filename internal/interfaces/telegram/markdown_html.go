package telegram

import (
	"bytes"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownToTelegramHTML 把模型产出的 Markdown 渲染成 Telegram 认可的
// HTML 子集（<b> <i> <s> <code> <pre> <a>）。比直接用 Markdown parse_mode
// 可靠：标签保证闭合，特殊字符全部转义。
func MarkdownToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	r := &htmlRenderer{src: src}
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		r.renderNode(&buf, child)
	}
	return strings.TrimRight(buf.String(), "\n")
}

type htmlRenderer struct {
	src []byte
}

func (r *htmlRenderer) renderNode(w *bytes.Buffer, node ast.Node) {
	switch n := node.(type) {
	case *ast.Paragraph:
		r.renderChildren(w, n)
		w.WriteString("\n\n")

	case *ast.Heading:
		// Telegram 没有标题标签，退化成加粗
		w.WriteString("<b>")
		r.renderChildren(w, n)
		w.WriteString("</b>\n\n")

	case *ast.Blockquote:
		var inner bytes.Buffer
		r.renderChildren(&inner, n)
		for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			w.WriteString("▎" + line + "\n")
		}
		w.WriteString("\n")

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		w.WriteString("<pre><code>")
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			w.WriteString(html.EscapeString(string(line.Value(r.src))))
		}
		w.WriteString("</code></pre>\n\n")

	case *ast.List:
		r.renderList(w, n)

	case *ast.ListItem:
		r.renderChildren(w, n)

	case *ast.Text:
		w.WriteString(html.EscapeString(string(n.Segment.Value(r.src))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.WriteString("\n")
		}

	case *ast.String:
		w.WriteString(html.EscapeString(string(n.Value)))

	case *ast.CodeSpan:
		w.WriteString("<code>")
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			if t, ok := child.(*ast.Text); ok {
				w.WriteString(html.EscapeString(string(t.Segment.Value(r.src))))
			}
		}
		w.WriteString("</code>")

	case *ast.Emphasis:
		tag := "i"
		if n.Level == 2 {
			tag = "b"
		}
		w.WriteString("<" + tag + ">")
		r.renderChildren(w, n)
		w.WriteString("</" + tag + ">")

	case *ast.Link:
		w.WriteString(`<a href="` + html.EscapeString(string(n.Destination)) + `">`)
		r.renderChildren(w, n)
		w.WriteString("</a>")

	case *ast.AutoLink:
		url := html.EscapeString(string(n.URL(r.src)))
		w.WriteString(`<a href="` + url + `">` + url + "</a>")

	case *ast.ThematicBreak:
		w.WriteString("———\n\n")

	default:
		r.renderChildren(w, node)
	}
}

func (r *htmlRenderer) renderChildren(w *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		r.renderNode(w, child)
	}
}

func (r *htmlRenderer) renderList(w *bytes.Buffer, list *ast.List) {
	idx := list.Start
	for child := list.FirstChild(); child != nil; child = child.NextSibling() {
		if list.IsOrdered() {
			w.WriteString(strconv.Itoa(idx) + ". ")
			idx++
		} else {
			w.WriteString("• ")
		}
		var item bytes.Buffer
		r.renderChildren(&item, child)
		w.WriteString(strings.TrimRight(item.String(), "\n"))
		w.WriteString("\n")
	}
	w.WriteString("\n")
}

var formattingPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\n?|```|`|\\*\\*|__|~~|^#{1,6} ")

// StripFormatting 去掉 Markdown 标记，留纯文本。HTML 渲染也被拒时的兜底。
func StripFormatting(md string) string {
	return formattingPattern.ReplaceAllString(md, "")
}
