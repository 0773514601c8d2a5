// Command configgen renders per-deployment codejail configs from a base YAML
// file plus a profile of overrides, so the LMS side and the codejail service
// share one source of limits and credentials.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"capajail/internal/codejail/config"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir string                       `yaml:"outputDir"`
	Auth      AuthProfile                  `yaml:"auth"`
	Targets   map[string]DeploymentProfile `yaml:"targets"`
}

// AuthProfile is copied into the auth section of every target with ServesExec set.
type AuthProfile struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

type DeploymentProfile struct {
	Base       string                 `yaml:"base"`
	Output     string                 `yaml:"output"`
	ServesExec bool                   `yaml:"servesExec"`
	Overrides  map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/deploy-profile.yaml", "Path to deployment profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	written, err := generate(*profilePath, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

// generate writes one config per target and returns the written paths in
// target name order. Every rendered file must load as a codejail config.
func generate(profilePath, outputDir string) ([]string, error) {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return nil, fmt.Errorf("load profile failed: %w", err)
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}
	if err := os.MkdirAll(profile.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory failed: %w", err)
	}

	names := make([]string, 0, len(profile.Targets))
	for name := range profile.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		target := profile.Targets[name]
		if target.Base == "" {
			return nil, fmt.Errorf("target %q missing base config", name)
		}
		if !filepath.IsAbs(target.Base) {
			target.Base = filepath.Join(profileDir, target.Base)
		}
		rendered, err := render(profile, target)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", name, err)
		}
		outputPath, err := resolveOutputPath(profile.OutputDir, target)
		if err != nil {
			return nil, fmt.Errorf("resolve output path for %q failed: %w", name, err)
		}
		if err := writeYAML(outputPath, rendered); err != nil {
			return nil, fmt.Errorf("write config for %q failed: %w", name, err)
		}
		if _, err := config.LoadWith(outputPath, noEnv); err != nil {
			return nil, fmt.Errorf("rendered config for %q is invalid: %w", name, err)
		}
		written = append(written, outputPath)
	}
	return written, nil
}

func noEnv(string) (string, bool) { return "", false }

func render(profile *Profile, target DeploymentProfile) (interface{}, error) {
	baseConfig, err := loadYAML(target.Base)
	if err != nil {
		return nil, fmt.Errorf("load base config failed: %w", err)
	}
	baseConfig = normalizeValue(baseConfig)
	if len(target.Overrides) > 0 {
		baseConfig, err = mergeMap(baseConfig, normalizeValue(target.Overrides))
		if err != nil {
			return nil, fmt.Errorf("merge overrides failed: %w", err)
		}
	}
	if !target.ServesExec {
		return baseConfig, nil
	}
	return applySharedAuth(profile.Auth, baseConfig)
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if len(profile.Targets) == 0 {
		return nil, errors.New("profile has no targets")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func resolveOutputPath(outputDir string, target DeploymentProfile) (string, error) {
	output := target.Output
	if output == "" {
		output = filepath.Base(target.Base)
	}
	if output == "" || output == "." {
		return "", errors.New("output path is empty")
	}
	if filepath.IsAbs(output) {
		return output, nil
	}
	return filepath.Join(outputDir, output), nil
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap merges override into base recursively; lists and scalars are replaced.
func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}
	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}

func applySharedAuth(auth AuthProfile, cfg interface{}) (interface{}, error) {
	if auth.JWTSecret == "" && auth.JWTIssuer == "" {
		return cfg, nil
	}
	root, ok := cfg.(map[string]interface{})
	if !ok {
		return nil, errors.New("config is not a map")
	}
	section, ok := root["auth"].(map[string]interface{})
	if !ok {
		section = map[string]interface{}{}
		root["auth"] = section
	}
	if auth.JWTSecret != "" {
		section["jwtSecret"] = auth.JWTSecret
	}
	if auth.JWTIssuer != "" {
		section["jwtIssuer"] = auth.JWTIssuer
	}
	return root, nil
}
