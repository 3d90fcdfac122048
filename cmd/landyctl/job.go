package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

func runSubmitCmd(args []string) {
	fs := newFlagSet("submit")
	name := fs.String("name", "", "business name")
	kind := fs.String("type", "", "business type")
	city := fs.String("city", "", "target city")
	country := fs.String("country", "", "target country")
	locale := fs.String("locale", "", "page locale (default ar-SA)")
	direction := fs.String("direction", "", "text direction (rtl|ltr)")
	description := fs.String("description", "", "business description")
	competitors := fs.String("competitors", "", "comma-separated competitor URLs")
	notes := fs.String("notes", "", "additional notes for the copywriter")
	watch := fs.Bool("watch", false, "follow progress after submitting")
	jsonOut := fs.Bool("json", false, "output JSON response")
	fs.ParseArgs(args)

	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*kind) == "" {
		fail("business --name and --type required")
	}
	if strings.TrimSpace(*city) == "" || strings.TrimSpace(*country) == "" {
		fail("target --city and --country required")
	}

	req := map[string]any{
		"business_name": strings.TrimSpace(*name),
		"business_type": strings.TrimSpace(*kind),
		"city":          strings.TrimSpace(*city),
		"country":       strings.TrimSpace(*country),
	}
	if *locale != "" {
		req["locale"] = *locale
	}
	if *direction != "" {
		req["direction"] = *direction
	}
	if *description != "" {
		req["description"] = *description
	}
	if urls := splitComma(*competitors); len(urls) > 0 {
		req["competitor_urls"] = urls
	}
	if *notes != "" {
		req["additional_notes"] = *notes
	}

	client := newClient(*fs.gateway, *fs.token)
	resp, err := client.SubmitJob(context.Background(), req)
	check(err)
	if *jsonOut {
		printJSON(resp)
	} else {
		fmt.Println(resp.JobID)
	}
	if *watch {
		check(followStream(*fs.gateway, resp.JobID, resp.StreamToken))
	}
}

func runStatusCmd(args []string) {
	fs := newFlagSet("status")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}
	client := newClient(*fs.gateway, *fs.token)
	job, err := client.GetJob(context.Background(), fs.Arg(0))
	check(err)
	if status, ok := job["status"].(string); ok && status != "" {
		fmt.Println(status)
		return
	}
	printJSON(job)
}

func runShowCmd(args []string) {
	fs := newFlagSet("show")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}
	client := newClient(*fs.gateway, *fs.token)
	job, err := client.GetJob(context.Background(), fs.Arg(0))
	check(err)
	printJSON(job)
}

func runWatchCmd(args []string) {
	fs := newFlagSet("watch")
	streamToken := fs.String("stream-token", "", "job-scoped stream token")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}
	if strings.TrimSpace(*streamToken) == "" {
		fail("--stream-token required")
	}
	check(followStream(*fs.gateway, fs.Arg(0), *streamToken))
}

func runPageCmd(args []string) {
	fs := newFlagSet("page")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("job id required")
	}
	client := newClient(*fs.gateway, *fs.token)
	page, err := client.GetPage(context.Background(), fs.Arg(0))
	check(err)
	printJSON(page)
}

func runFailuresCmd(args []string) {
	fs := newFlagSet("failures")
	limit := fs.Int("limit", 50, "max entries")
	fs.ParseArgs(args)
	client := newClient(*fs.gateway, *fs.token)
	out, err := client.ListFailures(context.Background(), *limit)
	check(err)
	printJSON(out)
}

func runGatewayStatusCmd(args []string) {
	fs := newFlagSet("gateway-status")
	fs.ParseArgs(args)
	client := newClient(*fs.gateway, *fs.token)
	status, err := client.GetStatus(context.Background())
	check(err)
	printJSON(status)
}

// followStream tails the job's SSE stream and prints progress messages
// until a terminal event arrives.
func followStream(gateway, jobID, streamToken string) error {
	streamURL := strings.TrimRight(gateway, "/") +
		"/api/v1/jobs/" + jobID + "/stream?token=" + url.QueryEscape(streamToken)
	req, err := http.NewRequest(http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: 15 * time.Minute}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream failed: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame struct {
			Type    string `json:"type"`
			Status  string `json:"status"`
			Step    string `json:"step"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			continue
		}
		if frame.Type == "connected" {
			fmt.Printf("connected (status: %s)\n", frame.Status)
			continue
		}
		if frame.Message != "" {
			fmt.Println(frame.Message)
		}
		if frame.Status == "completed" || frame.Status == "failed" {
			return nil
		}
	}
	return scanner.Err()
}
