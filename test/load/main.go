package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path"
	"strings"
	"time"
)

const (
	sourceURL = "mysql://root@127.0.0.1:3306/tpcc"
	targetURL = "mysql://root@127.0.0.1:3306/tpcc_copy"
)

// Loads a tpcc dataset with go-tpc, exports it into an empty database with dbsync and verifies the copy
func main() {
	usr, _ := user.Current()
	base := path.Join(usr.HomeDir, "Development")
	work, err := os.MkdirTemp("", "dbsync-load")
	NoErr(err)
	defer os.RemoveAll(work)

	InDir(path.Join(base, "go-tpc"), func() {
		Exec("./bin/go", "build", "-o", "go-tpc", "./cmd/go-tpc")
	})
	InDir(path.Join(base, "dbsync"), func() {
		Exec("go", "build", "-o", "dbsync", "./cmd/dbsync")
	})

	ExecIgnoreErr("mysql", "-u", "root", "-e", "drop database tpcc;")
	ExecIgnoreErr("mysql", "-u", "root", "-e", "drop database tpcc_copy;")
	Exec("mysql", "-u", "root", "-e", "create database tpcc;")
	Exec("mysql", "-u", "root", "-e", "create database tpcc_copy;")

	tpc := path.Join(base, "go-tpc", "go-tpc")
	dbsync := path.Join(base, "dbsync", "dbsync")

	Exec(tpc,
		"-H", "127.0.0.1",
		"-P", "3306",
		"-D", "tpcc",
		"tpcc",
		"--warehouses", "4",
		"prepare",
		"-T", "4",
		"--no-check")

	// The schema of the source becomes the createSchema phase of the export
	changelog := path.Join(work, "changelog")
	NoErr(os.MkdirAll(path.Join(changelog, "createSchema"), 0o755))
	schema, err := os.Create(path.Join(changelog, "createSchema", "1_tpcc.up.sql"))
	NoErr(err)
	dump := exec.Command("mysqldump", "-u", "root", "--no-data", "--skip-comments", "tpcc")
	dump.Stdout = schema
	dump.Stderr = os.Stderr
	Run(dump)
	NoErr(schema.Close())

	export := exec.Command(dbsync,
		"export",
		"--source-db-url", sourceURL,
		"--target-db-url", targetURL,
		"--changelog-dir", changelog,
		"--output", path.Join(work, "tpcc.sql.gz"),
		"--insert",
		"--threads", "6",
		"--queue-size", "4",
		"--batch-size", "500",
		"--read-timeout", "120s",
		"--read-retries", "10",
		"--write-retries", "10",
		"--export-timeout", "30m")
	export.Stdout = os.Stdout
	verified := make(chan struct{})
	export.Stderr = OnFirstOutput(os.Stderr, "All good!", func() {
		close(verified)
	})
	Run(export)
	select {
	case <-verified:
	case <-time.After(10 * time.Second):
		NoErr(errors.New("export finished without verifying the copy"))
	}

	verify := exec.Command(dbsync,
		"verify",
		"--metrics-port", "9103",
		"--source-db-url", sourceURL,
		"--target-db-url", targetURL)
	verify.Stdout = os.Stdout
	verify.Stderr = OnFirstOutput(os.Stderr, "All good!", func() {
		fmt.Println("test successful!")
	})
	Run(verify)
}

func Run(cmd *exec.Cmd) {
	fmt.Println(strings.Join(cmd.Args, " "))
	NoErr(cmd.Run())
}

func RunIgnoreErr(cmd *exec.Cmd) {
	fmt.Println(strings.Join(cmd.Args, " "))
	err := cmd.Run()
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return
	}
	NoErr(err)
}

// OnFirstOutput calls f once a line containing substr has been written, everything is forwarded to output
func OnFirstOutput(output io.Writer, substr string, f func()) io.Writer {
	pr, pw := io.Pipe()
	tee := io.TeeReader(pr, output)
	go func() {
		s := bufio.NewScanner(tee)
		for s.Scan() {
			if strings.Contains(s.Text(), substr) {
				f()
				break
			}
		}
		// Read everything else (TeeReader won't forward unless you read)
		for s.Scan() {
		}
	}()
	return pw
}

func Exec(name string, arg ...string) {
	cmd := exec.Command(name, arg...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	Run(cmd)
}

func ExecIgnoreErr(name string, arg ...string) {
	cmd := exec.Command(name, arg...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	RunIgnoreErr(cmd)
}

func InDir(dir string, f func()) {
	prev, err := os.Getwd()
	NoErr(err)
	NoErr(os.Chdir(dir))
	defer func() {
		_ = os.Chdir(prev)
	}()
	f()
}

func NoErr(err error) {
	if err != nil {
		panic(err)
	}
}
