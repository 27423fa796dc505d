package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/PatchLens/go-call-lens/lens"
	"github.com/PatchLens/go-call-lens/lens/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags)

	config, err := cmd.ParseGateFlags(nil)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	} else if err = config.PrepareGate(); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	if config.Restore {
		restored, err := lens.RestoreBackups(context.Background(), config.AbsProjDir)
		if err != nil {
			log.Fatalf("%sRestore failed: %v", lens.ErrorLogPrefix, err)
		}
		log.Printf("Restored %d files", len(restored))
		return
	}

	funcs, err := lens.ResolveSourceFunctions(config.AbsProjDir, config.Patterns...)
	if err != nil {
		log.Fatalf("%sResolve failed: %v", lens.ErrorLogPrefix, err)
	}
	log.Printf("Resolved %d functions", len(funcs))
	if config.Callers {
		if err := lens.ResolveCallers(config.AbsProjDir, funcs, config.Patterns...); err != nil {
			log.Fatalf("%sCaller analysis failed: %v", lens.ErrorLogPrefix, err)
		}
	}

	if config.DescriptorJsonFile != "" {
		data, err := json.MarshalIndent(funcs, "", "  ")
		if err != nil {
			log.Fatalf("%sFailed to marshal descriptors: %v", lens.ErrorLogPrefix, err)
		} else if err = os.WriteFile(config.DescriptorJsonFile, data, 0644); err != nil {
			log.Fatalf("%sFailed to write descriptors: %v", lens.ErrorLogPrefix, err)
		}
		log.Println("Descriptor file wrote: " + config.DescriptorJsonFile)
	}

	if config.Inject {
		if err := inject(config, funcs); err != nil {
			log.Fatalf("%sInjection failed: %v", lens.ErrorLogPrefix, err)
		}
	}
}

func inject(config *lens.Config, funcs []lens.SourceFunction) error {
	var injector lens.GateInjector
	var gated int
	for _, sf := range funcs {
		if err := injector.InjectGate(sf); errors.Is(err, lens.ErrNoFunctionBody) || errors.Is(err, lens.ErrUnsupportedType) {
			log.Printf("Skipping %s: %v", sf.Descriptor.Ident(), err)
			continue
		} else if err != nil {
			return errors.Join(err, errors.Join(injector.Restore()...))
		}
		gated++
	}
	if err := injector.Commit(); err != nil {
		return errors.Join(err, errors.Join(injector.Restore()...))
	}
	goMod := filepath.Join(config.AbsProjDir, "go.mod")
	if err := injector.EnsureGoModRequire(goMod, lens.LensModulePath, config.LensVersion, config.LensReplaceDir); err != nil {
		return errors.Join(err, errors.Join(injector.Restore()...))
	}
	if config.Verify {
		if err := injector.TrackFile(filepath.Join(config.AbsProjDir, "go.sum")); err != nil {
			return errors.Join(err, errors.Join(injector.Restore()...))
		} else if err := lens.VerifyBuild(config.AbsProjDir, nil, nil, config.Patterns...); err != nil {
			return errors.Join(err, errors.Join(injector.Restore()...))
		}
		log.Println("Gated project builds")
	}
	log.Printf("Injected %d gates, revert with -restore", gated)
	return nil
}
