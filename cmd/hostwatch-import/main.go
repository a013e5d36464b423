// cmd/hostwatch-import/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"hostwatch/internal/certs"
	"hostwatch/internal/config"
)

// includeFile is the shape config.Load merges from include.directory.
type includeFile struct {
	Hosting []config.HostingConfig `yaml:"hosting"`
}

type inspection struct {
	domain string
	status string
	days   *int
	err    error
}

func main() {
	var (
		input       = flag.StringP("input", "i", "-", "Domain list, one per line as `domain [client]` (- for stdin)")
		output      = flag.StringP("output", "o", "hosting.yaml", "Output include file")
		prefix      = flag.String("id-prefix", "", "Prefix for generated hosting IDs")
		inactive    = flag.Bool("inactive", false, "Mark imported records as cancelled")
		inspect     = flag.Bool("inspect", false, "Inspect each domain's TLS certificate and print its classification")
		warningDays = flag.Int("warning-days", 14, "Days before expiry that count as expiring soon")
		timeout     = flag.Duration("timeout", 10*time.Second, "TLS inspection timeout per domain")
		concurrency = flag.Int("concurrency", 8, "Parallel TLS inspections")
	)
	flag.Parse()

	in := io.Reader(os.Stdin)
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		in = f
	}

	records, err := parseDomainList(in, *prefix, !*inactive)
	if err != nil {
		log.Fatalf("Failed to read domain list: %v", err)
	}
	if len(records) == 0 {
		log.Fatal("No domains found in input")
	}

	if *inspect {
		domains := make([]string, len(records))
		for i, rec := range records {
			domains[i] = rec.Domain
		}
		printInspections(inspectAll(domains, *timeout, *warningDays, *concurrency))
	}

	if err := writeInclude(records, *output); err != nil {
		log.Fatalf("Failed to write include file: %v", err)
	}

	fmt.Printf("\nInclude file written to: %s\n", *output)
	fmt.Printf("Imported %d hosting records\n", len(records))
}

// parseDomainList reads `domain [client]` lines. Blank lines and # comments are
// skipped, and duplicate domains keep their first occurrence.
func parseDomainList(r io.Reader, prefix string, active bool) ([]config.HostingConfig, error) {
	seen := make(map[string]bool)
	var records []config.HostingConfig

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		domain, err := certs.NormalizeDomain(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true

		rec := config.HostingConfig{
			ID:     generateHostingID(prefix, domain),
			Domain: domain,
			Active: active,
		}
		if len(fields) > 1 {
			rec.Client = strings.Join(fields[1:], " ")
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Domain < records[j].Domain })
	return records, nil
}

func generateHostingID(prefix, domain string) string {
	id := strings.NewReplacer(".", "-", ":", "-").Replace(domain)
	if prefix != "" {
		return prefix + "-" + id
	}
	return id
}

func inspectAll(domains []string, timeout time.Duration, warningDays, concurrency int) []inspection {
	if concurrency < 1 {
		concurrency = 1
	}
	inspector := certs.NewTLSInspector(timeout)
	results := make([]inspection, len(domains))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, domain := range domains {
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			cert, err := inspector.Inspect(context.Background(), domain)
			status, days := certs.Classify(time.Now(), certs.ValidityOf(cert), warningDays)
			results[i] = inspection{domain: domain, status: string(status), days: days, err: err}
		}(i, domain)
	}
	wg.Wait()
	return results
}

func printInspections(results []inspection) {
	fmt.Printf("%-40s %-15s %s\n", "DOMAIN", "STATUS", "DAYS")
	for _, r := range results {
		days := "-"
		if r.days != nil {
			days = fmt.Sprint(*r.days)
		}
		line := fmt.Sprintf("%-40s %-15s %s", r.domain, r.status, days)
		if r.err != nil {
			line += "  (" + r.err.Error() + ")"
		}
		fmt.Println(line)
	}
}

func writeInclude(records []config.HostingConfig, filename string) error {
	data, err := yaml.Marshal(includeFile{Hosting: records})
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := fmt.Sprintf("# hostwatch hosting records\n# Generated by hostwatch-import on %s\n# Contains %d records\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		len(records))

	if err := os.WriteFile(filename, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
