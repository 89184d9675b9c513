package router

import (
	"strings"

	"livewatch/pkg/tgui"
)

// helpText renders the command list, or the commands below path, in HTML
// parse mode.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	cur := root
	for i, p := range path {
		n, ok := cur.child(strings.ToLower(p))
		if !ok {
			if leaf, ok := alias[strings.ToLower(p)]; ok && i == 0 {
				cur = leaf
				break
			}
			return "❓ <b>未知命令</b>\n发送 <code>/help</code> 查看可用命令。"
		}
		cur = n
	}

	var b strings.Builder
	b.WriteString("<b>可用命令</b>\n")
	for _, c := range cur.leaves() {
		route := splitRoute(c.Route)
		usage := c.Usage
		if usage == "" {
			usage = "/" + menuName(route)
		}
		b.WriteString("\n" + tgui.Code(usage).String())
		if c.Access == AccessOwnerOnly {
			b.WriteString(" " + strings.TrimSpace(lockMark))
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString("\n  " + tgui.Esc(d).String())
		}
	}
	return b.String()
}
