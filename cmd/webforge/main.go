package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"webforge/internal/config"
	"webforge/internal/server"
	"webforge/internal/version"
)

func main() {
	_ = config.LoadAndApply()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		addr := fs.String("addr", ":8090", "listen address")
		_ = fs.Parse(os.Args[2:])
		if err := server.Run(*addr); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version.String())
	case "projects":
		projectsCmd(os.Args[2:])
	case "index":
		indexCmd(os.Args[2:])
	case "install":
		installCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "messages":
		messagesCmd(os.Args[2:])
	case "reset":
		resetCmd(os.Args[2:])
	case "metrics":
		metricsCmd(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("webforge - conversational code generation for web projects")
	fmt.Println("usage:")
	fmt.Println("  webforge serve [--addr :8090]")
	fmt.Println("  webforge version")
	fmt.Println("  webforge projects [list|create|delete]")
	fmt.Println("  webforge index --project <name>")
	fmt.Println("  webforge install --project <name> --file <path>")
	fmt.Println("  webforge chat --project <name> [--file <path>]... \"<message>\"")
	fmt.Println("  webforge messages --project <name>")
	fmt.Println("  webforge reset --project <name>")
	fmt.Println("  webforge metrics")
}

func serverURL() string {
	if v := os.Getenv("WEBFORGE_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8090"
}

func projectsCmd(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: webforge projects [list|create|delete]")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		resp, err := http.Get(serverURL() + "/projects")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		io.Copy(os.Stdout, resp.Body)
	case "create":
		fs := flag.NewFlagSet("projects create", flag.ExitOnError)
		name := fs.String("name", "", "project name")
		root := fs.String("root", "", "project root path")
		_ = fs.Parse(args[1:])
		if *name == "" {
			fmt.Println("--name required")
			os.Exit(1)
		}
		body, _ := json.Marshal(map[string]string{"name": *name, "rootPath": *root})
		resp, err := http.Post(serverURL()+"/projects", "application/json", strings.NewReader(string(body)))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		io.Copy(os.Stdout, resp.Body)
	case "delete":
		fs := flag.NewFlagSet("projects delete", flag.ExitOnError)
		name := fs.String("name", "", "project name")
		_ = fs.Parse(args[1:])
		if *name == "" {
			fmt.Println("--name required")
			os.Exit(1)
		}
		body, _ := json.Marshal(map[string]string{"name": *name})
		req, _ := http.NewRequest(http.MethodDelete, serverURL()+"/projects", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		io.Copy(os.Stdout, resp.Body)
	default:
		fmt.Println("usage: webforge projects [list|create|delete]")
		os.Exit(1)
	}
}

func indexCmd(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	project := fs.String("project", "", "project name")
	_ = fs.Parse(args)
	if *project == "" {
		fmt.Println("--project required")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]string{"projectName": *project})
	resp, err := http.Post(serverURL()+"/index", "application/json", strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

// installCmd sends a source file's contents to the server, which installs any
// npm packages the file imports but the project does not yet depend on.
func installCmd(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	project := fs.String("project", "", "project name")
	file := fs.String("file", "", "source file to scan for imports")
	_ = fs.Parse(args)
	if *project == "" || *file == "" {
		fmt.Println("usage: webforge install --project <name> --file <path>")
		os.Exit(1)
	}
	code, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]string{"projectName": *project, "code": string(code)})
	resp, err := http.Post(serverURL()+"/install", "application/json", strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	project := fs.String("project", "", "project name")
	var files stringList
	fs.Var(&files, "file", "attached file path (repeatable)")
	_ = fs.Parse(args)
	rest := fs.Args()
	if *project == "" || len(rest) == 0 {
		fmt.Println("usage: webforge chat --project <name> [--file <path>]... \"<message>\"")
		os.Exit(1)
	}
	payload := map[string]any{
		"projectName": *project,
		"message":     strings.Join(rest, " "),
	}
	if len(files) > 0 {
		payload["files"] = []string(files)
	}
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, serverURL()+"/chat", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	// print assessment chunks as they stream, then the final outcome
	rd := bufio.NewScanner(resp.Body)
	event := ""
	for rd.Scan() {
		line := rd.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		switch event {
		case "chunk":
			var s string
			if err := json.Unmarshal([]byte(`"`+data+`"`), &s); err == nil {
				fmt.Print(s)
			}
		case "files":
			fmt.Printf("\nfiles: %s\n", data)
		case "message":
			var out struct {
				Message             string `json:"message"`
				ClarificationNeeded bool   `json:"clarificationNeeded"`
			}
			if err := json.Unmarshal([]byte(data), &out); err == nil && !out.ClarificationNeeded {
				fmt.Printf("\n%s\n", out.Message)
			} else {
				fmt.Println()
			}
		case "error":
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", data)
			os.Exit(1)
		}
	}
}

func messagesCmd(args []string) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	project := fs.String("project", "", "project name")
	_ = fs.Parse(args)
	if *project == "" {
		fmt.Println("--project required")
		os.Exit(1)
	}
	resp, err := http.Get(serverURL() + "/chat/messages?projectName=" + url.QueryEscape(*project))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	var res struct {
		Messages []struct {
			Sender  string `json:"sender"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		_, _ = io.Copy(os.Stdout, resp.Body)
		return
	}
	for _, m := range res.Messages {
		fmt.Printf("[%s] %s\n", m.Sender, m.Content)
	}
}

func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	project := fs.String("project", "", "project name")
	_ = fs.Parse(args)
	if *project == "" {
		fmt.Println("--project required")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]string{"projectName": *project})
	resp, err := http.Post(serverURL()+"/chat/reset", "application/json", strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}

func metricsCmd(args []string) {
	resp, err := http.Get(serverURL() + "/metrics")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
}
