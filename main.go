package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"google.golang.org/api/idtoken"

	"studygroups/optimizer"
	"studygroups/roster"
)

//go:embed schema.sql
var schema string

const maxUploadBytes = 16 << 20

var (
	htmlTemplates *template.Template
	jsTemplates   *texttemplate.Template
)

// cacheEntry holds everything a solve produced so the download links and
// the "save run" action keep working until the process restarts.
type cacheEntry struct {
	filename  string
	workbook  []byte
	sheet     string
	csv       string
	txt       string
	class     string
	groupType string
	objective int
	groups    [][]optimizer.Person
}

type linkStore struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func newLinkStore() *linkStore {
	return &linkStore{entries: map[string]*cacheEntry{}}
}

func (s *linkStore) put(e *cacheEntry) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.entries[token] = e
	s.mu.Unlock()
	return token
}

func (s *linkStore) get(token string) (*cacheEntry, bool) {
	s.mu.Lock()
	e, ok := s.entries[token]
	s.mu.Unlock()
	return e, ok
}

func main() {
	for _, key := range []string{"PGCONN", "CLIENT_ID", "CLIENT_SECRET", "ADMINS"} {
		if os.Getenv(key) == "" {
			log.Fatalf("%s environment variable is required", key)
		}
	}

	solveBudget := optimizer.DefaultTimeBudget
	if v := os.Getenv("SOLVE_BUDGET"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			log.Fatalf("SOLVE_BUDGET must be a positive number of seconds, got %q", v)
		}
		solveBudget = time.Duration(secs) * time.Second
	}

	db, err := sql.Open("postgres", os.Getenv("PGCONN"))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	log.Println("connected to database")

	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	htmlTemplates = template.Must(template.New("").ParseGlob("static/*.html"))
	jsTemplates = texttemplate.Must(texttemplate.New("").ParseGlob("static/*.js"))

	downloads := newLinkStore()

	http.HandleFunc("GET /{$}", serveHTML("index.html"))
	http.HandleFunc("GET /app.js", serveJS("app.js"))
	http.HandleFunc("POST /auth/google/callback", handleGoogleCallback)
	http.HandleFunc("GET /api/admin/check", handleAdminCheck)
	http.HandleFunc("POST /api/solve", handleSolve(db, downloads, solveBudget))
	http.HandleFunc("GET /download/{token}/{format}", handleDownload(downloads))
	http.HandleFunc("POST /api/runs", handleCreateRun(db, downloads))
	http.HandleFunc("GET /api/runs", handleListRuns(db))
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	log.Println("listening on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}

func templateData() map[string]any {
	m := map[string]string{}
	for _, e := range os.Environ() {
		if parts := strings.SplitN(e, "=", 2); len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return map[string]any{"env": m}
}

func serveHTML(name string) http.HandlerFunc {
	t := htmlTemplates.Lookup(name)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html")
		t.Execute(w, templateData())
	}
}

func serveJS(name string) http.HandlerFunc {
	t := jsTemplates.Lookup(name)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "application/javascript")
		t.Execute(w, templateData())
	}
}

func handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	credential := r.FormValue("credential")
	if credential == "" {
		http.Error(w, "missing credential", http.StatusBadRequest)
		return
	}

	payload, err := idtoken.Validate(context.Background(), credential, os.Getenv("CLIENT_ID"))
	if err != nil {
		log.Println("failed to validate token:", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	email := payload.Claims["email"].(string)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"email": email,
		"name":  payload.Claims["name"],
		"token": signEmail(email),
		"admin": isAdmin(email),
	})
}

func signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(os.Getenv("CLIENT_SECRET")))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if signEmail(email) != token {
		return "", false
	}
	return email, true
}

func isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(os.Getenv("ADMINS"), ","), func(a string) bool {
		return strings.TrimSpace(a) == email
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"admin": isAdmin(email)})
}

func handleSolve(db *sql.DB, downloads *linkStore, defaultBudget time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "upload too large or malformed", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file is required", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
			http.Error(w, "upload must be an .xlsx file", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}

		groupSize, err := strconv.Atoi(r.FormValue("group_size"))
		if err != nil || groupSize <= 0 {
			http.Error(w, "group_size must be a positive integer", http.StatusBadRequest)
			return
		}
		mode := optimizer.Mixed
		if r.FormValue("group_type") == string(optimizer.SameSex) {
			mode = optimizer.SameSex
		}
		budget := defaultBudget
		if v := r.FormValue("time_budget_seconds"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				http.Error(w, "time_budget_seconds must be positive", http.StatusBadRequest)
				return
			}
			budget = time.Duration(secs) * time.Second
		}

		people, err := roster.Load(data)
		if err != nil {
			http.Error(w, "could not read the workbook: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(people) == 0 {
			http.Error(w, "no valid students (B=sex, C=firstname, D=lastname) found in the file", http.StatusBadRequest)
			return
		}

		pairs, err := roster.PriorPairs(data)
		if err != nil {
			log.Println("skipping workbook history:", err)
			pairs = nil
		}
		class := strings.TrimSpace(r.FormValue("class"))
		if class != "" {
			dbPairs, err := priorPairsFromRuns(db, class)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			pairs = append(pairs, dbPairs...)
		}

		result, err := optimizer.Solve(people, pairs, optimizer.Settings{
			GroupSize:  groupSize,
			Mode:       mode,
			TimeBudget: budget,
		})
		if errors.Is(err, optimizer.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Println("solve failed:", err)
			http.Error(w, "solver failure", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if result.Status == optimizer.StatusInfeasible || result.Status == optimizer.StatusTimedOut {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{"status": result.Status})
			return
		}

		numGroups := (len(people) + groupSize - 1) / groupSize
		groups := roster.Groups(people, result.Assignment, numGroups)

		workbook, sheet, err := roster.AppendGroupsSheet(data, groups)
		if err != nil {
			http.Error(w, "could not update the workbook: "+err.Error(), http.StatusInternalServerError)
			return
		}

		txt := roster.BuildTXT(groups)
		token := downloads.put(&cacheEntry{
			filename:  filepath.Base(header.Filename),
			workbook:  workbook,
			sheet:     sheet,
			csv:       roster.BuildCSV(groups, time.Now().UTC()),
			txt:       txt,
			class:     class,
			groupType: string(mode),
			objective: result.Objective,
			groups:    groups,
		})

		type member struct {
			Name string `json:"name"`
			Sex  string `json:"sex"`
		}
		out := make([][]member, len(groups))
		for gi, group := range groups {
			out[gi] = make([]member, len(group))
			for i, p := range group {
				out[gi][i] = member{Name: p.ID, Sex: string(p.Sex)}
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"token":        token,
			"status":       result.Status,
			"objective":    result.Objective,
			"num_groups":   numGroups,
			"num_students": len(people),
			"group_type":   string(mode),
			"sheet":        sheet,
			"groups":       out,
			"groups_txt":   txt,
		})
	}
}

func handleDownload(downloads *linkStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := downloads.get(r.PathValue("token"))
		if !ok {
			http.Error(w, "download expired or invalid", http.StatusNotFound)
			return
		}
		switch r.PathValue("format") {
		case "csv":
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="study_groups.csv"`)
			io.WriteString(w, entry.csv)
		case "txt":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="study_groups.txt"`)
			io.WriteString(w, entry.txt)
		case "xlsx":
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.filename))
			w.Write(entry.workbook)
		default:
			http.Error(w, "unknown format", http.StatusNotFound)
		}
	}
}

func handleCreateRun(db *sql.DB, downloads *linkStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var body struct {
			Token string `json:"token"`
			Class string `json:"class"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		entry, ok := downloads.get(body.Token)
		if !ok {
			http.Error(w, "solution expired, run the optimisation again", http.StatusNotFound)
			return
		}
		class := strings.TrimSpace(body.Class)
		if class == "" {
			class = entry.class
		}
		if class == "" {
			http.Error(w, "class is required", http.StatusBadRequest)
			return
		}

		tx, err := db.Begin()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer tx.Rollback()

		var id int64
		err = tx.QueryRow(
			"INSERT INTO runs (class_name, group_type, objective) VALUES ($1, $2, $3) RETURNING id",
			class, entry.groupType, entry.objective).Scan(&id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for gi, group := range entry.groups {
			for _, p := range group {
				if _, err := tx.Exec(
					"INSERT INTO run_members (run_id, group_idx, name, sex) VALUES ($1, $2, $3, $4)",
					id, gi, p.ID, string(p.Sex)); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
		}
		if err := tx.Commit(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "class": class})
	}
}

func handleListRuns(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		class := strings.TrimSpace(r.URL.Query().Get("class"))
		rows, err := db.Query(`
			SELECT r.id, r.class_name, r.group_type, r.objective, r.created_at,
				COUNT(m.id), COUNT(DISTINCT m.group_idx)
			FROM runs r
			LEFT JOIN run_members m ON m.run_id = r.id
			WHERE $1 = '' OR r.class_name = $1
			GROUP BY r.id, r.class_name, r.group_type, r.objective, r.created_at
			ORDER BY r.id DESC`, class)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type run struct {
			ID        int64     `json:"id"`
			Class     string    `json:"class"`
			GroupType string    `json:"group_type"`
			Objective int       `json:"objective"`
			CreatedAt time.Time `json:"created_at"`
			Students  int       `json:"students"`
			Groups    int       `json:"groups"`
		}
		var runs []run
		for rows.Next() {
			var ru run
			if err := rows.Scan(&ru.ID, &ru.Class, &ru.GroupType, &ru.Objective, &ru.CreatedAt, &ru.Students, &ru.Groups); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			runs = append(runs, ru)
		}
		if runs == nil {
			runs = []run{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runs)
	}
}

// priorPairsFromRuns derives weighted prior pairs from a class's saved run
// history: each pair's weight counts the runs that grouped the two names
// together.
func priorPairsFromRuns(db *sql.DB, class string) ([]optimizer.Pair, error) {
	rows, err := db.Query(`
		SELECT a.name, b.name, COUNT(*)
		FROM run_members a
		JOIN run_members b ON b.run_id = a.run_id AND b.group_idx = a.group_idx AND a.name < b.name
		JOIN runs r ON r.id = a.run_id
		WHERE r.class_name = $1
		GROUP BY a.name, b.name`, class)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []optimizer.Pair
	for rows.Next() {
		var p optimizer.Pair
		if err := rows.Scan(&p.A, &p.B, &p.Weight); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
