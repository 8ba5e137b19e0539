package ext2

import "strings"

// Component returns the first slash-separated component of path and
// the remainder after it, collapsing repeated slashes. Ported from
// path_get_component in path.c.
func Component(path string) (head, rest string) {
	path = strings.TrimLeft(path, "/")
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, ""
	}
	head = path[:idx]
	rest = strings.TrimLeft(path[idx:], "/")
	return head, rest
}

// LastComponent returns the final slash-separated component of path,
// ported from path_last_component.
func LastComponent(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// Parent returns path with its final component removed, ported from
// path_get_parent. The parent of a single component is "".
func Parent(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Append joins parent and name with a single separating slash, without
// producing a doubled slash, ported from path_append.
func Append(parent, name string) string {
	if parent == "" {
		return name
	}
	if strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + "/" + name
}
