package shell

// ZshPlugin is the zsh plugin source. It installs a precmd hook that logs
// every command exiting non-zero, with exit code and epoch timestamp, to the
// bugrelay failure log.
const ZshPlugin = `# bugrelay shell plugin — auto-generated, do not edit manually
# Source this file from your ~/.zshrc:
#   source ~/.config/bugrelay/bugrelay.plugin.zsh

_bugrelay_log_file="${XDG_DATA_HOME:-$HOME/.local/share}/bugrelay/failures.log"

_bugrelay_preexec() {
  _bugrelay_last_cmd="$1"
}

_bugrelay_precmd() {
  local code=$?
  [[ $code -eq 0 ]] && return
  [[ -z "$_bugrelay_last_cmd" ]] && return
  # Skip bugrelay's own invocations.
  [[ "$_bugrelay_last_cmd" =~ ^[[:space:]]*(.*\/)?bugrelay([[:space:]]|$) ]] && return
  mkdir -p "${_bugrelay_log_file%/*}"
  printf '%s\t%s\t%s\n' "$(date +%s)" "$code" "$_bugrelay_last_cmd" >> "$_bugrelay_log_file"
  _bugrelay_last_cmd=""
}

autoload -Uz add-zsh-hook
add-zsh-hook preexec _bugrelay_preexec
add-zsh-hook precmd _bugrelay_precmd
`
