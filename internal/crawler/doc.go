// Package crawler discovers the pages of a documentation site. Discovery is
// synchronous and depth-first so the returned order follows the site's
// navigation, which is the order pages appear in the merged PDF.
package crawler
