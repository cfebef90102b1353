// Command client floods one guarded endpoint of the demo server and reports
// how many requests were admitted versus throttled, verifying the bounded
// admission guarantee end to end.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/throttleguard/throttle/throttle/middleware"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	path := flag.String("path", "/reviews", "guarded endpoint to hit")
	total := flag.Int("n", 20, "total requests to send")
	workers := flag.Int("c", 5, "concurrent workers")
	sameActor := flag.Bool("same-actor", true, "send all requests as one actor")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	sharedActor := uuid.NewString()

	var (
		mu        sync.Mutex
		admitted  int
		throttled int
		failed    int
		retryHint string
	)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				actor := sharedActor
				if !*sameActor {
					actor = uuid.NewString()
				}

				req, err := http.NewRequest(http.MethodPost, *addr+*path, nil)
				if err != nil {
					panic(err)
				}
				req.Header.Set(middleware.ActorHeader, actor)

				resp, err := client.Do(req)
				mu.Lock()
				switch {
				case err != nil:
					failed++
				case resp.StatusCode == http.StatusTooManyRequests:
					throttled++
					retryHint = resp.Header.Get("Retry-After")
				case resp.StatusCode < 300:
					admitted++
				default:
					failed++
				}
				mu.Unlock()
				if err == nil {
					resp.Body.Close()
				}
			}
		}()
	}

	start := time.Now()
	for i := 0; i < *total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	fmt.Printf("sent %d requests to %s%s in %s\n", *total, *addr, *path, time.Since(start).Round(time.Millisecond))
	fmt.Printf("admitted:  %d\n", admitted)
	fmt.Printf("throttled: %d\n", throttled)
	fmt.Printf("failed:    %d\n", failed)
	if retryHint != "" {
		fmt.Printf("last Retry-After hint: %ss\n", retryHint)
	}
}
