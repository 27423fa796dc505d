package cmd

import (
	"errors"
	"flag"
	"strconv"
	"strings"

	"github.com/PatchLens/go-call-lens/lens"
)

// CustomFlag defines a custom CLI option.
type CustomFlag struct {
	Name         string
	DefaultValue any
	Usage        string
	Type         string // "string", "int", "bool"
}

// ParseGateFlags builds the lensgate Config from standard and custom flags.
func ParseGateFlags(customFlags []CustomFlag) (*lens.Config, error) {
	projectDir := flag.String("project", "", "Path to the project module directory")
	patterns := flag.String("pkgs", "./...", "Comma separated package patterns to resolve")
	inject := flag.Bool("inject", false, "Inject gates into the resolved functions")
	restore := flag.Bool("restore", false, "Restore sources from backups of a previous injection")
	lensVersion := flag.String("lensversion", "v0.1.0", "Lens module version required by injected sources")
	lensReplace := flag.String("lensreplace", "", "Local lens module directory to replace the required version with")
	verify := flag.Bool("verify", false, "Build the project after injection, restoring sources on failure")
	callers := flag.Bool("callers", false, "Resolve the direct callers of each function from a static call graph")
	descriptorJsonFile := flag.String("json", "", "File to output resolved function descriptors")
	customPtrs := defineCustomFlags(customFlags)

	flag.Parse()

	if *projectDir == "" {
		return nil, errors.New("usage: -project ../foo [-pkgs ./...] [-inject [-lensversion v0.1.0] [-lensreplace ../lens] [-verify] | -restore] [-json descriptors.json]")
	}

	config := &lens.Config{
		ProjectDir:         *projectDir,
		Patterns:           splitList(*patterns),
		Inject:             *inject,
		Restore:            *restore,
		LensVersion:        *lensVersion,
		LensReplaceDir:     *lensReplace,
		Verify:             *verify,
		Callers:            *callers,
		DescriptorJsonFile: *descriptorJsonFile,
		CustomFlags:        collectCustomFlags(customPtrs),
	}
	return config, nil
}

// ParseReportFlags builds the lensreport Config from standard and custom flags.
func ParseReportFlags(customFlags []CustomFlag) (*lens.Config, error) {
	storageDir := flag.String("storage", "", "Path to the call log storage directory")
	storageMB := flag.Int("storagemb", 64, "Storage memory budget in MB")
	logName := flag.String("log", "", "Name of the call log to report")
	baseLogName := flag.String("base", "", "Name of a call log to diff against")
	listLogs := flag.Bool("list", false, "List the stored call logs")
	reportJsonFile := flag.String("report", "callreport.json", "File to output the call report")
	reportChartsFile := flag.String("charts", "callreport.png", "File to output the call chart image")
	customPtrs := defineCustomFlags(customFlags)

	flag.Parse()

	if *storageDir == "" || (*logName == "" && !*listLogs) {
		return nil, errors.New("usage: -storage ./calllogs -log <name> [-base <name>] | -storage ./calllogs -list")
	}

	config := &lens.Config{
		StorageDir:       *storageDir,
		StorageMB:        *storageMB,
		LogName:          *logName,
		BaseLogName:      *baseLogName,
		ListLogs:         *listLogs,
		ReportJsonFile:   *reportJsonFile,
		ReportChartsFile: *reportChartsFile,
		CustomFlags:      collectCustomFlags(customPtrs),
	}
	return config, nil
}

func defineCustomFlags(customFlags []CustomFlag) map[string]any {
	customPtrs := make(map[string]any)
	for _, cf := range customFlags {
		switch cf.Type {
		case "string":
			customPtrs[cf.Name] = flag.String(cf.Name, cf.DefaultValue.(string), cf.Usage)
		case "int":
			customPtrs[cf.Name] = flag.Int(cf.Name, cf.DefaultValue.(int), cf.Usage)
		case "bool":
			customPtrs[cf.Name] = flag.Bool(cf.Name, cf.DefaultValue.(bool), cf.Usage)
		}
	}
	return customPtrs
}

// collectCustomFlags converts parsed custom flag values to strings.
func collectCustomFlags(customPtrs map[string]any) map[string]string {
	values := make(map[string]string, len(customPtrs))
	for name, ptr := range customPtrs {
		switch v := ptr.(type) {
		case *string:
			values[name] = *v
		case *int:
			values[name] = strconv.Itoa(*v)
		case *bool:
			values[name] = strconv.FormatBool(*v)
		}
	}
	return values
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
