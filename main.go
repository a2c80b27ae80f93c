// Command docs2pdf exports documentation sites to PDF.
package main

import "github.com/xrf-9527/documentation-pdf-scraper-sub001/cmd"

func main() {
	cmd.Execute()
}
