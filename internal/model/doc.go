// Package model holds the price, dataset and metadata types shared across
// the pipeline.
package model
