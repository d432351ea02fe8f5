package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// defaultConfigName 未指定 --config 且没有命令行参数时, 在当前目录查找的配置文件
const defaultConfigName = "linktrack.json"

var (
	// ErrConfig 配置文件无法读取或解析, 或配置内容非法
	ErrConfig = errors.New("配置错误")
	// ErrUsage 缺少必填参数, 调用方应打印用法
	ErrUsage = errors.New("缺少必填参数")
)

// RemoteRole 指定源和目标中哪一端位于远程主机
type RemoteRole string

const (
	RoleNone RemoteRole = ""
	RoleSrc  RemoteRole = "src"
	RoleDest RemoteRole = "dest"
)

// allowedRsyncOptions 允许通过 rsyncOptions 传给 rsync 的参数
var allowedRsyncOptions = []string{
	"-v", "--verbose",
	"-q", "--quiet",
	"-z", "--compress",
	"-h", "--human-readable",
	"-P", "--progress", "--partial",
	"--stats",
	"-n", "--dry-run",
	"-c", "--checksum",
	"-H", "--hard-links",
	"-A", "--acls",
	"-X", "--xattrs",
	"--numeric-ids",
	"-i", "--itemize-changes",
}

// configFlags 命令行参数名与配置键的对应关系
var configFlags = []struct {
	flag, key string
}{
	{"src", "src"},
	{"dest", "dest"},
	{"remote-role", "remoteRole"},
	{"remote-user", "remoteUser"},
	{"remote-host", "remoteHost"},
	{"exclude-from", "excludeFrom"},
	{"log-file", "logFile"},
	{"backup-prefix", "backupPrefix"},
	{"rsync-options", "rsyncOptions"},
}

// Options 是未经校验的原始配置, 来自配置文件或命令行参数
type Options struct {
	Src          string `mapstructure:"src"`
	Dest         string `mapstructure:"dest"`
	RemoteRole   string `mapstructure:"remoteRole"`
	RemoteUser   string `mapstructure:"remoteUser"`
	RemoteHost   string `mapstructure:"remoteHost"`
	ExcludeFrom  string `mapstructure:"excludeFrom"`
	LogFile      string `mapstructure:"logFile"`
	BackupPrefix string `mapstructure:"backupPrefix"`
	RsyncOptions string `mapstructure:"rsyncOptions"`
	BeforeScript string `mapstructure:"beforeScript"`
	AfterScript  string `mapstructure:"afterScript"`
}

// Config 是校验后的配置, 创建后不再修改
type Config struct {
	Src          string     `yaml:"src"`
	Dest         string     `yaml:"dest"`
	RemoteRole   RemoteRole `yaml:"remoteRole,omitempty"`
	RemoteUser   string     `yaml:"remoteUser,omitempty"`
	RemoteHost   string     `yaml:"remoteHost,omitempty"`
	ExcludeFrom  string     `yaml:"excludeFrom,omitempty"`
	LogFile      string     `yaml:"logFile,omitempty"`
	BackupPrefix string     `yaml:"backupPrefix"`
	RsyncOptions []string   `yaml:"rsyncOptions,omitempty"`
	BeforeScript string     `yaml:"beforeScript,omitempty"`
	AfterScript  string     `yaml:"afterScript,omitempty"`
}

func (c *Config) IsRemoteSrc() bool  { return c.RemoteRole == RoleSrc }
func (c *Config) IsRemoteDest() bool { return c.RemoteRole == RoleDest }

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "显示生效的配置",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		out, err := yaml.Marshal(s.cfg)
		if err != nil {
			return fmt.Errorf("序列化配置失败: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", fmt.Sprintf("配置文件路径 (JSON 或 YAML), 默认读取当前目录的 %s", defaultConfigName))
	fs.StringP("src", "s", "", "源目录")
	fs.StringP("dest", "d", "", "目标目录, 快照创建在其中")
	fs.StringP("remote-role", "R", "", "位于远程主机的一端 (src|dest)")
	fs.StringP("remote-user", "U", "", "远程主机用户名")
	fs.StringP("remote-host", "H", "", "远程主机地址")
	fs.StringP("exclude-from", "e", "", "rsync 排除规则文件")
	fs.StringP("log-file", "l", "", "日志文件路径")
	fs.StringP("backup-prefix", "p", defaultBackupPrefix, "快照目录名前缀")
	fs.StringP("rsync-options", "o", "", "附加的 rsync 参数 (仅限白名单)")
}

// loadOptions 按优先级读取原始配置: --config 指定的文件 > 命令行参数 > 当前目录的默认配置文件
func loadOptions(cmd *cobra.Command, log *slog.Logger) (*Options, error) {
	flags := cmd.Flags()
	changed := changedConfigFlags(flags)

	if flags.Changed("config") {
		if len(changed) > 0 {
			log.Warn("已指定配置文件, 忽略命令行参数", "flags", changed)
		}
		path, _ := flags.GetString("config")
		return readOptionsFile(path)
	}

	if len(changed) > 0 {
		return optionsFromFlags(flags)
	}

	if _, err := os.Stat(defaultConfigName); err == nil {
		log.Debug("使用默认配置文件", "file", defaultConfigName)
		return readOptionsFile(defaultConfigName)
	}

	return nil, fmt.Errorf("%w: 需要 --src 和 --dest, 或配置文件", ErrUsage)
}

func changedConfigFlags(flags *pflag.FlagSet) []string {
	var changed []string
	for _, f := range configFlags {
		if flags.Changed(f.flag) {
			changed = append(changed, "--"+f.flag)
		}
	}
	return changed
}

func readOptionsFile(path string) (*Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: 读取配置文件失败 (%s): %v", ErrConfig, path, err)
	}

	var opts Options
	if err := v.UnmarshalExact(&opts); err != nil {
		return nil, fmt.Errorf("%w: 配置文件格式无效 (%s): %v", ErrConfig, path, err)
	}
	return &opts, nil
}

func optionsFromFlags(flags *pflag.FlagSet) (*Options, error) {
	v := viper.New()
	for _, f := range configFlags {
		if err := v.BindPFlag(f.key, flags.Lookup(f.flag)); err != nil {
			return nil, fmt.Errorf("绑定参数 --%s 失败: %w", f.flag, err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("%w: 解析命令行参数失败: %v", ErrConfig, err)
	}
	return &opts, nil
}

// Validate 校验原始配置并返回不可变的 Config.
// 排除规则文件不存在时仅记录警告并忽略该项.
func (o *Options) Validate(log *slog.Logger) (*Config, error) {
	if o.Src == "" || o.Dest == "" {
		return nil, fmt.Errorf("%w: src 和 dest 不能为空", ErrUsage)
	}

	cfg := &Config{
		Src:          o.Src,
		Dest:         o.Dest,
		LogFile:      o.LogFile,
		BackupPrefix: o.BackupPrefix,
		BeforeScript: o.BeforeScript,
		AfterScript:  o.AfterScript,
	}

	role, err := validateRemote(o.RemoteRole, o.RemoteUser, o.RemoteHost)
	if err != nil {
		return nil, err
	}
	if role != RoleNone {
		cfg.RemoteRole = role
		cfg.RemoteUser = o.RemoteUser
		cfg.RemoteHost = o.RemoteHost
	}

	if cfg.BackupPrefix == "" {
		cfg.BackupPrefix = defaultBackupPrefix
	}
	if strings.ContainsAny(cfg.BackupPrefix, `/\`) {
		return nil, fmt.Errorf("%w: 快照前缀不能包含路径分隔符: %q", ErrConfig, cfg.BackupPrefix)
	}

	if o.ExcludeFrom != "" {
		abs, err := filepath.Abs(o.ExcludeFrom)
		if err != nil {
			return nil, fmt.Errorf("%w: 解析排除规则文件路径失败 (%s): %v", ErrConfig, o.ExcludeFrom, err)
		}
		if _, err := os.Stat(abs); err != nil {
			log.Warn("排除规则文件不存在, 已忽略", "file", abs)
		} else {
			cfg.ExcludeFrom = abs
		}
	}

	if cfg.RsyncOptions, err = parseRsyncOptions(o.RsyncOptions); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRemote 远程参数必须三项同时提供或全部省略
func validateRemote(role, user, host string) (RemoteRole, error) {
	if role == "" && user == "" && host == "" {
		return RoleNone, nil
	}
	if role == "" || user == "" || host == "" {
		return RoleNone, fmt.Errorf("%w: remoteRole, remoteUser, remoteHost 必须同时提供", ErrConfig)
	}

	switch r := RemoteRole(role); r {
	case RoleSrc, RoleDest:
		return r, nil
	default:
		return RoleNone, fmt.Errorf("%w: remoteRole 只能是 src 或 dest, 当前为 %q", ErrConfig, role)
	}
}

func parseRsyncOptions(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	opts, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("%w: 无法解析 rsyncOptions %q: %v", ErrConfig, s, err)
	}
	for _, opt := range opts {
		if !slices.Contains(allowedRsyncOptions, opt) {
			return nil, fmt.Errorf("%w: 不支持的 rsync 参数 %q (可用: %s)", ErrConfig, opt, strings.Join(allowedRsyncOptions, " "))
		}
	}
	return opts, nil
}
