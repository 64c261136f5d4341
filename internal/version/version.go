package version

// Version is the current release of freshscrape.
const Version = "0.3.1"
