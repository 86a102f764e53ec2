package filestore

import (
	"sort"
	"strings"

	"github.com/mir-akbar/codecollab/db"
)

// Node is one entry of the derived file tree. Folders are synthetic;
// only files carry metadata.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"` // "folder" or "file"
	FileSize int64   `json:"fileSize,omitempty"`
	MimeType string  `json:"mimeType,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// BuildHierarchy derives the folder tree from the session's file
// paths. The output is a pure function of the path set: folders first
// in lexicographic order, then files, recursively.
func BuildHierarchy(files []db.FileRecord) []*Node {
	root := &Node{Type: "folder"}
	index := map[string]*Node{"": root}

	folder := func(p string) *Node {
		if n, ok := index[p]; ok {
			return n
		}
		segments := strings.Split(p, "/")
		current := root
		prefix := ""
		for _, seg := range segments {
			if prefix == "" {
				prefix = seg
			} else {
				prefix = prefix + "/" + seg
			}
			next, ok := index[prefix]
			if !ok {
				next = &Node{Name: seg, Path: prefix, Type: "folder"}
				index[prefix] = next
				current.Children = append(current.Children, next)
			}
			current = next
		}
		return current
	}

	for _, f := range files {
		parent := root
		if f.ParentFolderPath != nil {
			parent = folder(*f.ParentFolderPath)
		}
		parent.Children = append(parent.Children, &Node{
			Name:     f.FileName,
			Path:     f.FilePath,
			Type:     "file",
			FileSize: f.FileSize,
			MimeType: f.MimeType,
		})
	}

	sortTree(root)
	return root.Children
}

// sortTree orders each level folders-first, each group lexicographic
func sortTree(n *Node) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type != b.Type {
			return a.Type == "folder"
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		if c.Type == "folder" {
			sortTree(c)
		}
	}
}
