// Package html provides a Normaliser for HTML documents.
//
// Markup is reduced to text with headings rewritten as Markdown "#" lines,
// so the headings sectioner can split a page the same way it splits a
// Markdown file. <meta name="description"> and <meta name="keywords">
// become tags, and the <title> becomes the document title.
package html
