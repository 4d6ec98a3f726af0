// Package tibia fetches boosted creature/boss data from the TibiaData v4 API.
//
// Details fall back to scraping the TibiaWiki page of the creature and, when
// that fails too, to a placeholder record, so callers always get something to post.
package tibia
