package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

func runDLQList(apiURL string, limit int, out io.Writer) error {
	return getJSON(fmt.Sprintf("%s/api/outbox/dlq?limit=%d", apiURL, limit), out)
}

func runDLQRequeue(apiURL, eventID string, out io.Writer) error {
	resp, err := http.Post(apiURL+"/api/outbox/dlq/"+eventID+"/requeue", "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func runSearch(apiURL, ownerID, query string, relScore float64, topK int, unified bool, out io.Writer) error {
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	payload := map[string]interface{}{
		"ownerId":           ownerID,
		"query":             query,
		"relationshipScore": relScore,
		"topK":              topK,
		"unified":           unified,
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(apiURL+"/api/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func runSLO(apiURL string, out io.Writer) error {
	return getJSON(apiURL+"/api/slo", out)
}

func runAuditVerify(apiURL, auditID, signature string, out io.Writer) error {
	u := apiURL + "/api/audits/" + auditID + "/verify"
	if signature != "" {
		u += "?signature=" + url.QueryEscape(signature)
	}
	return getJSON(u, out)
}

func getJSON(url string, out io.Writer) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}
