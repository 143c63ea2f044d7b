package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go <practice_name> [timezone]")
		fmt.Println("Example: go run main.go \"Lakeside Family Medicine\" America/Chicago")
		os.Exit(1)
	}

	name := os.Args[1]
	timezone := ""
	if len(os.Args) >= 3 {
		timezone = os.Args[2]
	}

	secret := os.Getenv("STAFF_JWT_SECRET")
	if secret == "" {
		fmt.Println("Error: STAFF_JWT_SECRET environment variable not set")
		os.Exit(1)
	}

	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	// Generate JWT token
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}

	payload, _ := json.Marshal(map[string]string{
		"name":     name,
		"timezone": timezone,
	})

	url := apiURL + "/admin/practices"
	fmt.Printf("Provisioning practice %q...\n", name)
	fmt.Printf("URL: %s\n", url)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error making request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		fmt.Printf("Error: HTTP %d\n", resp.StatusCode)
		fmt.Printf("Response: %s\n", string(body))
		os.Exit(1)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Printf("Response: %s\n", string(body))
	} else {
		prettyJSON, _ := json.MarshalIndent(result, "", "  ")
		fmt.Printf("Success!\n%s\n", string(prettyJSON))
	}
}
