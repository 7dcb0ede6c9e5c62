package shell

// BashPlugin is the bash plugin source. It records the command about to run
// via a DEBUG trap and logs it to the bugrelay failure log from
// PROMPT_COMMAND when it exited non-zero.
const BashPlugin = `# bugrelay shell plugin — auto-generated, do not edit manually
# Source this file from your ~/.bashrc:
#   source ~/.config/bugrelay/bugrelay.plugin.bash

_bugrelay_log_file="${XDG_DATA_HOME:-$HOME/.local/share}/bugrelay/failures.log"

_bugrelay_preexec() {
  _bugrelay_last_cmd="$BASH_COMMAND"
}

_bugrelay_precmd() {
  local code=$?
  [[ $code -eq 0 ]] && return
  [[ -z "$_bugrelay_last_cmd" ]] && return
  [[ "$_bugrelay_last_cmd" =~ ^[[:space:]]*(.*\/)?bugrelay([[:space:]]|$) ]] && return
  mkdir -p "${_bugrelay_log_file%/*}"
  printf '%s\t%s\t%s\n' "$(date +%s)" "$code" "$_bugrelay_last_cmd" >> "$_bugrelay_log_file"
  _bugrelay_last_cmd=""
}

trap '_bugrelay_preexec' DEBUG
PROMPT_COMMAND="_bugrelay_precmd${PROMPT_COMMAND:+;$PROMPT_COMMAND}"
`
