// Package gitignore matches paths against .gitignore rules.
//
// Patterns follow https://git-scm.com/docs/gitignore: wildcards (*, ?, **),
// rooted patterns (/build), negation (!keep.log), directory-only patterns
// (tmp/) and nested files whose rules only apply below their directory.
// Globs are evaluated with doublestar.
//
//	m := gitignore.New()
//	m.AddPattern("*.log")
//	m.AddPattern("!important.log")
//	_ = m.AddFromFile("/notes/drafts/.gitignore", "drafts")
//
//	if m.Match("drafts/scratch.log", false) {
//	    // ignored
//	}
package gitignore
