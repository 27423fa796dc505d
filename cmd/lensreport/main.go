package main

import (
	"fmt"
	"log"

	"github.com/PatchLens/go-call-lens/lens"
	"github.com/PatchLens/go-call-lens/lens/cmd"
)

const callLogPrefix = "calllog"

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	config, err := cmd.ParseReportFlags(nil)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	} else if err = config.PrepareReport(); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	db, err := lens.NewBadgerStorage(config.StorageDir, config.StorageMB)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}
	store := lens.PrefixStorage(db, callLogPrefix)
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("%sStorage close failed: %v", lens.ErrorLogPrefix, err)
		}
	}()

	if err := run(config, store); err != nil {
		log.Printf("%s%v", lens.ErrorLogPrefix, err)
	}
}

func run(config *lens.Config, store lens.Storage) error {
	if config.ListLogs {
		keys, err := store.Keys("")
		if err != nil {
			return fmt.Errorf("list call logs failed: %w", err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	}

	callLog, err := loadLog(store, config.LogName)
	if err != nil {
		return err
	}
	records := callLog.Records()
	for _, line := range callLog.Lines() {
		fmt.Println(line)
	}

	if config.BaseLogName != "" {
		baseLog, err := loadLog(store, config.BaseLogName)
		if err != nil {
			return err
		}
		diff, err := lens.DiffCallLogs(baseLog.Records(), records)
		if err != nil {
			return fmt.Errorf("diff failed: %w", err)
		} else if diff == "" {
			log.Printf("Call log %s matches %s", config.LogName, config.BaseLogName)
		} else {
			fmt.Print(diff)
		}
	}

	if config.ReportJsonFile != "" {
		if err := lens.NewCallReport(records).WriteToFile(config.ReportJsonFile); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		log.Println("Report file wrote: " + config.ReportJsonFile)
	}
	if config.ReportChartsFile != "" && len(records) > 0 {
		if err := lens.WriteCallChart(config.ReportChartsFile, lens.Stats(records)); err != nil {
			return err
		}
		log.Println("Chart file wrote: " + config.ReportChartsFile)
	}
	return nil
}

func loadLog(store lens.Storage, name string) (*lens.CallLog, error) {
	callLog, ok, err := lens.LoadCallLog(store, name)
	if err != nil {
		return nil, fmt.Errorf("load call log %s failed: %w", name, err)
	} else if !ok {
		return nil, fmt.Errorf("call log not found: %s", name)
	}
	return callLog, nil
}
