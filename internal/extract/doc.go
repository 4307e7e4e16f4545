// Package extract turns raw HTML into crawler.Page values.
//
// Parsing goes through Document, a deliberately small view of a parsed page
// (title, visible text of an element, attribute values of elements). The
// goquery/x/net/html implementation returned by Parse tolerates malformed
// markup the same way browsers do, so extraction degrades to empty fields
// instead of failing.
package extract
