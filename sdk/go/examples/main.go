package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"a2a-agent/sdk/go/a2a"
)

// 演示通过 SDK 调用本地运行的 a2a-agentd。
func main() {
	baseURL := os.Getenv("A2A_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client, err := a2a.NewClient(baseURL, a2a.WithAPIKey(os.Getenv("A2A_API_KEY")))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sent, err := client.SendMessage(ctx, a2a.TextMessage("Summarize this in 20 words: the Go gopher is a mascot."), a2a.SendOptions{})
	if err != nil {
		log.Fatalf("message/send: %v", err)
	}
	task := sent.Task
	if task == nil {
		done, err := client.WaitForTask(ctx, sent.TaskID, 200*time.Millisecond)
		if err != nil {
			log.Fatalf("wait: %v", err)
		}
		task = &done
	}
	fmt.Printf("task %s %s: %v\n", task.ID, task.Status, task.Result)
}
