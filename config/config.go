package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	PageURL          string
	OutputFile       string
	OutputFormat     string // json, csv, or dual
	ImageDir         string
	ThumbWidth       int
	ThumbHeight      int
	JPEGQuality      int
	ImageWorkers     int
	Timeout          time.Duration // zero disables the timeout
	UserAgent        string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string
}

// DefaultConfig returns the defaults for the camelcodes book listing.
func DefaultConfig() *Config {
	return &Config{
		PageURL:          "https://www.camelcodes.net/books/",
		OutputFile:       "generated/json/data.json",
		OutputFormat:     "json",
		ImageDir:         "generated/images",
		ThumbWidth:       400,
		ThumbHeight:      300,
		JPEGQuality:      75,
		ImageWorkers:     1,
		Timeout:          0,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:          false,
		RespectRobotsTxt: false,
		MetricsAddr:      "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.PageURL == "" {
		return fmt.Errorf("page URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.PageURL)
	if err != nil {
		return fmt.Errorf("invalid page URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("page URL must include a host")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("page URL scheme must be http or https")
	}

	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.ImageDir == "" {
		return fmt.Errorf("image directory cannot be empty")
	}
	if c.ThumbWidth <= 0 || c.ThumbHeight <= 0 {
		return fmt.Errorf("thumbnail bounds must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100")
	}
	if c.ImageWorkers <= 0 {
		return fmt.Errorf("image workers must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// OutputDirs lists the directories that must exist before anything is written.
func (c *Config) OutputDirs() []string {
	return []string{filepath.Dir(c.OutputFile), c.ImageDir}
}

// CSVOutputFile returns the CSV companion path used by the dual format.
func (c *Config) CSVOutputFile() string {
	return strings.TrimSuffix(c.OutputFile, filepath.Ext(c.OutputFile)) + ".csv"
}
