// moltbook-scraper crawls the Moltbook forum platform through its REST API:
// submolt discovery, post listings under several sort orders, post details
// and full comment trees, all rate-limited and resumable.
//
// Usage:
//
//	moltbook-scraper crawl
//	moltbook-scraper comments --only-submolts ai,agents
//
// See --help for all available options.
package main

func main() {
	Execute()
}
